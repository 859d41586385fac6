// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/cache"
	"github.com/tomtom215/feedrank/internal/metrics"
)

// Config configures the Orchestrator.
type Config struct {
	// MaxBatchSize caps how many same-model tasks share one BatchPredict call.
	MaxBatchSize int

	// PredictionTimeout bounds how long a caller waits for its result.
	PredictionTimeout time.Duration

	// QueueCapacity bounds queued tasks (0 = unbounded).
	QueueCapacity int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      32,
		PredictionTimeout: 100 * time.Millisecond,
		QueueCapacity:     10000,
	}
}

// ModelStatus is a registry snapshot entry.
type ModelStatus struct {
	Info
	Class    cache.TTLClass `json:"class"`
	Loaded   bool           `json:"loaded"`
	LoadedAt time.Time      `json:"loaded_at"`
	Metrics  ModelMetrics   `json:"metrics"`
}

// Metrics are the aggregate orchestrator counters.
type Metrics struct {
	Queued     int64 `json:"queued"`
	Processed  int64 `json:"processed"`
	Batches    int64 `json:"batches"`
	Timeouts   int64 `json:"timeouts"`
	CacheHits  int64 `json:"cache_hits"`
	Errors     int64 `json:"errors"`
	QueueDepth int   `json:"queue_depth"`
}

// Orchestrator owns the model registry, checks the inference cache, and
// batches cache misses per model through a priority queue serviced by Run.
type Orchestrator struct {
	cache  *cache.InferenceCache
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	models map[string]*Model
	specs  map[string]ModelSpec

	queue  *taskQueue
	closed atomic.Bool

	queued    atomic.Int64
	processed atomic.Int64
	batches   atomic.Int64
	timeouts  atomic.Int64
	cacheHits atomic.Int64
	errs      atomic.Int64
}

// New creates an Orchestrator. c may be nil to disable result caching.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(c *cache.InferenceCache, cfg Config, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.PredictionTimeout <= 0 {
		cfg.PredictionTimeout = def.PredictionTimeout
	}
	if cfg.QueueCapacity < 0 {
		cfg.QueueCapacity = 0
	}
	return &Orchestrator{
		cache:  c,
		cfg:    cfg,
		logger: logger.With().Str("component", "orchestrator").Logger(),
		now:    time.Now,
		models: make(map[string]*Model),
		specs:  make(map[string]ModelSpec),
		queue:  newTaskQueue(cfg.QueueCapacity),
	}
}

// LoadModel loads spec and registers it under spec.Name, replacing any
// previous model of that name. On failure the registry is unchanged.
func (o *Orchestrator) LoadModel(ctx context.Context, spec ModelSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrModelLoad)
	}
	m := NewModel(spec)
	m.now = o.now
	if err := m.Load(ctx); err != nil {
		metrics.ModelLoadErrors.WithLabelValues(spec.Name).Inc()
		o.logger.Warn().Err(err).Str("model", spec.Name).Str("path", spec.Path).Msg("model load failed")
		return err
	}

	o.mu.Lock()
	o.models[spec.Name] = m
	o.specs[spec.Name] = spec
	n := len(o.models)
	o.mu.Unlock()

	metrics.ModelsLoaded.Set(float64(n))
	info := m.Info()
	o.logger.Info().Str("model", info.Name).Str("version", info.Version).Msg("model loaded")
	return nil
}

// ReloadModel reloads a registered model from its original spec. The old
// model keeps serving if the reload fails.
func (o *Orchestrator) ReloadModel(ctx context.Context, name string) error {
	o.mu.RLock()
	spec, ok := o.specs[name]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotLoaded, name)
	}
	return o.LoadModel(ctx, spec)
}

// UnloadModel removes a model from the registry. Queued tasks for it fail
// with ErrModelNotLoaded.
func (o *Orchestrator) UnloadModel(name string) bool {
	o.mu.Lock()
	_, ok := o.models[name]
	delete(o.models, name)
	delete(o.specs, name)
	n := len(o.models)
	o.mu.Unlock()

	if ok {
		metrics.ModelsLoaded.Set(float64(n))
		o.logger.Info().Str("model", name).Msg("model unloaded")
	}
	return ok
}

// Model returns the registered model, or nil.
func (o *Orchestrator) Model(name string) *Model {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.models[name]
}

// Models returns a snapshot of the registry sorted by name.
func (o *Orchestrator) Models() []ModelStatus {
	o.mu.RLock()
	models := make([]*Model, 0, len(o.models))
	for _, m := range o.models {
		models = append(models, m)
	}
	o.mu.RUnlock()

	out := make([]ModelStatus, 0, len(models))
	for _, m := range models {
		out = append(out, ModelStatus{
			Info:     m.Info(),
			Class:    m.Class(),
			Loaded:   m.Loaded(),
			LoadedAt: m.LoadedAt(),
			Metrics:  m.Metrics(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Predict runs a normal-priority prediction.
func (o *Orchestrator) Predict(ctx context.Context, model string, features Features) (Output, error) {
	return o.PredictWithPriority(ctx, model, features, PriorityNormal)
}

// Score returns element 0 of a normal-priority prediction.
func (o *Orchestrator) Score(ctx context.Context, model string, features Features) (float64, error) {
	out, err := o.Predict(ctx, model, features)
	if err != nil {
		return 0, err
	}
	return out.Score(), nil
}

// PredictWithPriority returns the cached output for (model, features) or
// enqueues a task and waits for it. A caller that times out gets
// ErrPredictionTimeout; the task is abandoned and never retried.
func (o *Orchestrator) PredictWithPriority(ctx context.Context, model string, features Features, priority Priority) (Output, error) {
	if o.closed.Load() {
		return nil, ErrOrchestratorClosed
	}
	m := o.Model(model)
	if m == nil {
		metrics.RecordPredictionOutcome(model, "not_loaded")
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, model)
	}

	key := cache.Key("predict:"+model+":"+m.Info().Version, features)
	if o.cache != nil {
		var cached Output
		if o.cache.GetJSON(ctx, key, m.Class(), &cached) {
			o.cacheHits.Add(1)
			metrics.RecordPredictionOutcome(model, "cached")
			return cached, nil
		}
	}

	t := &task{
		model:     model,
		key:       key,
		features:  features,
		priority:  priority,
		submitted: o.now(),
		result:    make(chan taskResult, 1),
	}
	if err := o.queue.push(t); err != nil {
		return nil, err
	}
	o.queued.Add(1)
	metrics.PredictionQueueDepth.Set(float64(o.queue.len()))

	timer := time.NewTimer(o.cfg.PredictionTimeout)
	defer timer.Stop()

	select {
	case res := <-t.result:
		return res.output, res.err
	case <-timer.C:
		t.cancelled.Store(true)
		o.timeouts.Add(1)
		metrics.RecordPredictionOutcome(model, "timeout")
		return nil, fmt.Errorf("%w: %s after %s", ErrPredictionTimeout, model, o.cfg.PredictionTimeout)
	case <-ctx.Done():
		t.cancelled.Store(true)
		return nil, ctx.Err()
	}
}

// Run services the queue until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().Int("max_batch_size", o.cfg.MaxBatchSize).Msg("batch loop started")
	for {
		batch := o.queue.popBatch(o.cfg.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				o.logger.Info().Msg("batch loop stopped")
				return ctx.Err()
			case <-o.queue.notify:
				continue
			}
		}
		metrics.PredictionQueueDepth.Set(float64(o.queue.len()))
		o.processBatch(ctx, batch)
	}
}

// processBatch runs one BatchPredict for tasks that all target the same model.
func (o *Orchestrator) processBatch(ctx context.Context, batch []*task) {
	name := batch[0].model
	m := o.Model(name)
	if m == nil {
		o.failBatch(batch, fmt.Errorf("%w: %s", ErrModelNotLoaded, name))
		return
	}

	inputs := make([]Features, len(batch))
	for i, t := range batch {
		inputs[i] = t.features
	}

	start := o.now()
	outputs, err := m.BatchPredict(ctx, inputs)
	metrics.RecordPrediction(name, len(batch), o.now().Sub(start), err)
	o.batches.Add(1)

	if err != nil {
		if errors.Is(err, ErrModelNotLoaded) {
			metrics.RecordPredictionOutcome(name, "not_loaded")
		}
		o.logger.Warn().Err(err).Str("model", name).Int("batch_size", len(batch)).Msg("batch prediction failed")
		o.failBatch(batch, err)
		return
	}

	for i, t := range batch {
		if o.cache != nil {
			o.cache.SetJSON(ctx, t.key, m.Class(), outputs[i])
		}
		o.processed.Add(1)
		t.deliver(outputs[i], nil)
	}
}

func (o *Orchestrator) failBatch(batch []*task, err error) {
	o.errs.Add(int64(len(batch)))
	for _, t := range batch {
		t.deliver(nil, err)
	}
}

// Close rejects new predictions and fails every queued task with
// ErrOrchestratorClosed.
func (o *Orchestrator) Close() {
	if o.closed.Swap(true) {
		return
	}
	pending := o.queue.drain()
	for _, t := range pending {
		t.deliver(nil, ErrOrchestratorClosed)
	}
	metrics.PredictionQueueDepth.Set(0)
	o.logger.Info().Int("failed_pending", len(pending)).Msg("orchestrator closed")
}

// Metrics returns the aggregate counters.
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Queued:     o.queued.Load(),
		Processed:  o.processed.Load(),
		Batches:    o.batches.Load(),
		Timeouts:   o.timeouts.Load(),
		CacheHits:  o.cacheHits.Load(),
		Errors:     o.errs.Load(),
		QueueDepth: o.queue.len(),
	}
}
