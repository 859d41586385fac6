// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"sync"
	"sync/atomic"
	"time"
)

type taskResult struct {
	output Output
	err    error
}

// task is one queued prediction. It is consumed exactly once: either the
// batch loop delivers to result, or the caller gives up and sets cancelled.
type task struct {
	model     string
	key       string
	features  Features
	priority  Priority
	seq       uint64
	submitted time.Time
	result    chan taskResult
	cancelled atomic.Bool
}

func (t *task) deliver(out Output, err error) {
	// result has capacity 1 and exactly one delivery happens per task.
	t.result <- taskResult{output: out, err: err}
}

// taskQueue is a binary min-heap of tasks ordered by (priority, seq), so
// higher priorities come first and equal priorities stay FIFO.
type taskQueue struct {
	mu       sync.Mutex
	heap     []*task
	nextSeq  uint64
	capacity int
	closed   bool

	// notify wakes the batch loop; buffered so push never blocks.
	notify chan struct{}
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{
		heap:     make([]*task, 0, 64),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push assigns the task a sequence number and enqueues it.
func (q *taskQueue) push(t *task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrOrchestratorClosed
	}
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	t.seq = q.nextSeq
	q.nextSeq++
	q.heap = append(q.heap, t)
	q.bubbleUp(len(q.heap) - 1)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// popBatch removes the head task plus the tasks immediately following it in
// queue order that target the same model, up to max. Cancelled tasks are
// discarded on the way.
func (q *taskQueue) popBatch(max int) []*task {
	if max < 1 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []*task
	for len(q.heap) > 0 && len(batch) < max {
		head := q.heap[0]
		if head.cancelled.Load() {
			q.popHead()
			continue
		}
		if len(batch) > 0 && head.model != batch[0].model {
			break
		}
		batch = append(batch, q.popHead())
	}
	return batch
}

// drain removes and returns every queued task and refuses further pushes.
func (q *taskQueue) drain() []*task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	out := q.heap
	q.heap = nil
	return out
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *taskQueue) popHead() *task {
	n := len(q.heap) - 1
	head := q.heap[0]
	q.swap(0, n)
	q.heap[n] = nil
	q.heap = q.heap[:n]
	if n > 0 {
		q.bubbleDown(0)
	}
	return head
}

func (q *taskQueue) less(i, j int) bool {
	a, b := q.heap[i], q.heap[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
}

func (q *taskQueue) bubbleUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			return
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *taskQueue) bubbleDown(i int) {
	n := len(q.heap)
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			return
		}
		q.swap(i, smallest)
		i = smallest
	}
}
