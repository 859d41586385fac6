// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/feedrank/internal/cache"
)

// Priority orders prediction tasks. Lower values are served first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "high", "normal" or "low". Anything else is normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Info is the static description of a model.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	InputShape  []int  `json:"input_shape,omitempty"`
	OutputShape []int  `json:"output_shape,omitempty"`
}

// ModelMetrics are the running counters of a model.
type ModelMetrics struct {
	TotalPredictions int64     `json:"total_predictions"`
	AvgLatencyMs     float64   `json:"avg_latency_ms"`
	ErrorCount       int64     `json:"error_count"`
	LastUsedAt       time.Time `json:"last_used_at"`
	Accuracy         *float64  `json:"accuracy,omitempty"`
}

// ErrorRate returns ErrorCount/TotalPredictions, or 0 before any prediction.
func (m ModelMetrics) ErrorRate() float64 {
	if m.TotalPredictions == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.TotalPredictions)
}

// ModelSpec describes a model to register.
type ModelSpec struct {
	Name    string
	Version string
	Path    string

	// Class selects the TTL of cached predictions.
	Class cache.TTLClass

	InputShape  []int
	OutputShape []int

	Runtime Runtime

	// PreProcess transforms each input before it reaches the runtime.
	PreProcess func(Features) Features
	// PostProcess transforms each runtime output.
	PostProcess func(Output) Output
}

// Model wraps a Runtime with load state and running metrics.
type Model struct {
	spec ModelSpec
	now  func() time.Time

	mu       sync.RWMutex
	loaded   bool
	loadedAt time.Time
	metrics  ModelMetrics
}

// NewModel creates an unloaded model from spec.
func NewModel(spec ModelSpec) *Model {
	if spec.Class == "" {
		spec.Class = cache.ClassEngagement
	}
	return &Model{spec: spec, now: time.Now}
}

// Load loads the runtime artifact. Any failure is reported as ErrModelLoad
// and leaves the model unloaded.
func (m *Model) Load(ctx context.Context) error {
	if m.spec.Runtime == nil {
		return fmt.Errorf("%w: %s has no runtime", ErrModelLoad, m.spec.Name)
	}
	if err := m.spec.Runtime.Load(ctx, m.spec.Path); err != nil {
		if !errors.Is(err, ErrModelLoad) {
			err = fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		m.mu.Lock()
		m.loaded = false
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.loaded = true
	m.loadedAt = m.now()
	if d, ok := m.spec.Runtime.(Describer); ok {
		info := d.Describe()
		if m.spec.Version == "" {
			m.spec.Version = info.Version
		}
		if len(m.spec.InputShape) == 0 {
			m.spec.InputShape = info.InputShape
		}
		if len(m.spec.OutputShape) == 0 {
			m.spec.OutputShape = info.OutputShape
		}
	}
	m.mu.Unlock()
	return nil
}

// Predict scores a single input.
func (m *Model) Predict(ctx context.Context, in Features) (Output, error) {
	out, err := m.BatchPredict(ctx, []Features{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// BatchPredict scores inputs in one runtime call. It returns exactly one
// output per input; a single failing element fails the whole batch.
// Each input counts as one prediction observing the batch latency.
func (m *Model) BatchPredict(ctx context.Context, inputs []Features) ([]Output, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if !m.Loaded() {
		m.record(len(inputs), 0, true)
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, m.spec.Name)
	}

	prepared := inputs
	if m.spec.PreProcess != nil {
		prepared = make([]Features, len(inputs))
		for i, in := range inputs {
			prepared[i] = m.spec.PreProcess(in)
		}
	}

	start := m.now()
	outputs, err := m.spec.Runtime.BatchPredict(ctx, prepared)
	elapsed := m.now().Sub(start)

	if err == nil && len(outputs) != len(inputs) {
		err = fmt.Errorf("runtime returned %d outputs for %d inputs", len(outputs), len(inputs))
	}
	if err != nil {
		m.record(len(inputs), elapsed, true)
		return nil, fmt.Errorf("%w: %s: %w", ErrInference, m.spec.Name, err)
	}

	if m.spec.PostProcess != nil {
		for i := range outputs {
			outputs[i] = m.spec.PostProcess(outputs[i])
		}
	}
	m.record(len(inputs), elapsed, false)
	return outputs, nil
}

// record folds k predictions of the given latency into the running average.
func (m *Model) record(k int, elapsed time.Duration, failed bool) {
	ms := float64(elapsed) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	n0 := float64(m.metrics.TotalPredictions)
	m.metrics.TotalPredictions += int64(k)
	m.metrics.AvgLatencyMs = (m.metrics.AvgLatencyMs*n0 + float64(k)*ms) / float64(m.metrics.TotalPredictions)
	if failed {
		m.metrics.ErrorCount += int64(k)
	}
	m.metrics.LastUsedAt = m.now()
}

// SetAccuracy records an externally measured accuracy in [0,1].
func (m *Model) SetAccuracy(acc float64) {
	m.mu.Lock()
	m.metrics.Accuracy = &acc
	m.mu.Unlock()
}

// Metrics returns a copy of the running metrics.
func (m *Model) Metrics() ModelMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.metrics
	if m.metrics.Accuracy != nil {
		acc := *m.metrics.Accuracy
		out.Accuracy = &acc
	}
	return out
}

// Info returns the model's static description.
func (m *Model) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		Name:        m.spec.Name,
		Version:     m.spec.Version,
		InputShape:  m.spec.InputShape,
		OutputShape: m.spec.OutputShape,
	}
}

// Name returns the registry name.
func (m *Model) Name() string { return m.spec.Name }

// Class returns the TTL class of the model's predictions.
func (m *Model) Class() cache.TTLClass { return m.spec.Class }

// Loaded reports whether the last Load succeeded.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// LoadedAt returns the time of the last successful load.
func (m *Model) LoadedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadedAt
}
