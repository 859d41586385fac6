// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/metrics"
)

// AlertType identifies the breached health threshold.
type AlertType string

const (
	AlertHighLatency   AlertType = "HIGH_LATENCY"
	AlertHighErrorRate AlertType = "HIGH_ERROR_RATE"
	AlertLowAccuracy   AlertType = "LOW_ACCURACY"
	AlertModelUnused   AlertType = "MODEL_UNUSED"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor returns the fixed severity of an alert type.
func SeverityFor(t AlertType) Severity {
	switch t {
	case AlertHighErrorRate:
		return SeverityHigh
	case AlertHighLatency, AlertLowAccuracy:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert is one threshold breach observed during a check.
type Alert struct {
	Type      AlertType          `json:"type"`
	Model     string             `json:"model"`
	Severity  Severity           `json:"severity"`
	Payload   map[string]float64 `json:"payload"`
	Timestamp time.Time          `json:"timestamp"`
}

// MonitorConfig holds the health thresholds.
type MonitorConfig struct {
	Interval     time.Duration
	MaxLatencyMs float64
	MaxErrorRate float64
	MinAccuracy  float64
	UnusedAfter  time.Duration
	MaxAlerts    int
}

// DefaultMonitorConfig returns the production thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     30 * time.Second,
		MaxLatencyMs: 1000,
		MaxErrorRate: 0.05,
		MinAccuracy:  0.7,
		UnusedAfter:  time.Hour,
		MaxAlerts:    1000,
	}
}

// ModelSource supplies registry snapshots. *Orchestrator implements it.
type ModelSource interface {
	Models() []ModelStatus
}

// AlertHandler receives every raised alert.
type AlertHandler func(Alert)

// Monitor checks model health on a fixed period. A condition that persists
// raises one alert per period.
type Monitor struct {
	source ModelSource
	cfg    MonitorConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	ring     []Alert
	next     int
	full     bool
	handlers []AlertHandler
}

// NewMonitor creates a monitor over source.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMonitor(source ModelSource, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = def.MaxAlerts
	}
	return &Monitor{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "model_monitor").Logger(),
		now:    time.Now,
		ring:   make([]Alert, cfg.MaxAlerts),
	}
}

// OnAlert registers a handler called synchronously for each new alert.
func (m *Monitor) OnAlert(h AlertHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Interval returns the check period.
func (m *Monitor) Interval() time.Duration { return m.cfg.Interval }

// Check evaluates every loaded model once and returns the alerts raised.
func (m *Monitor) Check() []Alert {
	now := m.now()
	var raised []Alert

	for _, st := range m.source.Models() {
		if !st.Loaded {
			continue
		}
		mm := st.Metrics
		if m.cfg.MaxLatencyMs > 0 && mm.TotalPredictions > 0 && mm.AvgLatencyMs > m.cfg.MaxLatencyMs {
			raised = append(raised, m.alert(now, AlertHighLatency, st.Name, map[string]float64{
				"avg_latency_ms": mm.AvgLatencyMs,
				"threshold_ms":   m.cfg.MaxLatencyMs,
			}))
		}
		if rate := mm.ErrorRate(); m.cfg.MaxErrorRate > 0 && rate > m.cfg.MaxErrorRate {
			raised = append(raised, m.alert(now, AlertHighErrorRate, st.Name, map[string]float64{
				"error_rate": rate,
				"threshold":  m.cfg.MaxErrorRate,
			}))
		}
		if mm.Accuracy != nil && *mm.Accuracy < m.cfg.MinAccuracy {
			raised = append(raised, m.alert(now, AlertLowAccuracy, st.Name, map[string]float64{
				"accuracy":  *mm.Accuracy,
				"threshold": m.cfg.MinAccuracy,
			}))
		}
		lastSeen := mm.LastUsedAt
		if lastSeen.IsZero() {
			lastSeen = st.LoadedAt
		}
		if m.cfg.UnusedAfter > 0 && !lastSeen.IsZero() && now.Sub(lastSeen) > m.cfg.UnusedAfter {
			raised = append(raised, m.alert(now, AlertModelUnused, st.Name, map[string]float64{
				"idle_seconds": now.Sub(lastSeen).Seconds(),
			}))
		}
	}

	if len(raised) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, a := range raised {
		m.ring[m.next] = a
		m.next = (m.next + 1) % len(m.ring)
		if m.next == 0 {
			m.full = true
		}
	}
	handlers := append([]AlertHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, a := range raised {
		metrics.RecordAlert(string(a.Type), string(a.Severity))
		m.logger.Warn().
			Str("alert", string(a.Type)).
			Str("model", a.Model).
			Str("severity", string(a.Severity)).
			Interface("payload", a.Payload).
			Msg("model health alert")
		for _, h := range handlers {
			h(a)
		}
	}
	return raised
}

func (m *Monitor) alert(now time.Time, t AlertType, model string, payload map[string]float64) Alert {
	return Alert{Type: t, Model: model, Severity: SeverityFor(t), Payload: payload, Timestamp: now}
}

// Alerts returns up to limit stored alerts, newest first. limit <= 0 returns all.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out
}

// Run calls Check every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check()
		}
	}
}
