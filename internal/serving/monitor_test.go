// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/metrics"
)

type staticSource struct {
	models []ModelStatus
}

func (s *staticSource) Models() []ModelStatus { return s.models }

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	tests := map[AlertType]Severity{
		AlertHighErrorRate: SeverityHigh,
		AlertHighLatency:   SeverityMedium,
		AlertLowAccuracy:   SeverityMedium,
		AlertModelUnused:   SeverityLow,
	}
	for typ, want := range tests {
		if got := SeverityFor(typ); got != want {
			t.Errorf("SeverityFor(%s) = %s, want %s", typ, got, want)
		}
	}
}

func TestMonitor_Check(t *testing.T) {
	clock := newTestClock()
	acc := 0.6
	src := &staticSource{models: []ModelStatus{
		{
			Info:   Info{Name: "slow"},
			Loaded: true,
			Metrics: ModelMetrics{
				TotalPredictions: 100, AvgLatencyMs: 1500, ErrorCount: 10,
				LastUsedAt: clock.Now(), Accuracy: &acc,
			},
		},
		{
			Info:     Info{Name: "idle"},
			Loaded:   true,
			LoadedAt: clock.Now().Add(-2 * time.Hour),
		},
		{
			Info:    Info{Name: "healthy"},
			Loaded:  true,
			Metrics: ModelMetrics{TotalPredictions: 100, AvgLatencyMs: 5, ErrorCount: 1, LastUsedAt: clock.Now()},
		},
		{
			Info:    Info{Name: "unloaded"},
			Metrics: ModelMetrics{TotalPredictions: 1, ErrorCount: 1},
		},
	}}

	mon := NewMonitor(src, DefaultMonitorConfig(), zerolog.Nop())
	mon.now = clock.Now

	var handled []Alert
	mon.OnAlert(func(a Alert) { handled = append(handled, a) })

	before := testutil.ToFloat64(metrics.ModelAlerts.WithLabelValues(string(AlertHighErrorRate), string(SeverityHigh)))
	alerts := mon.Check()

	got := map[string]bool{}
	for _, a := range alerts {
		got[a.Model+"/"+string(a.Type)] = true
		if a.Severity != SeverityFor(a.Type) {
			t.Errorf("alert %s has severity %s", a.Type, a.Severity)
		}
	}
	for _, want := range []string{"slow/HIGH_LATENCY", "slow/HIGH_ERROR_RATE", "slow/LOW_ACCURACY", "idle/MODEL_UNUSED"} {
		if !got[want] {
			t.Errorf("missing alert %s in %v", want, got)
		}
	}
	if len(alerts) != 4 {
		t.Errorf("expected 4 alerts, got %d", len(alerts))
	}
	if len(handled) != 4 {
		t.Errorf("expected handler called 4 times, got %d", len(handled))
	}
	after := testutil.ToFloat64(metrics.ModelAlerts.WithLabelValues(string(AlertHighErrorRate), string(SeverityHigh)))
	if after-before != 1 {
		t.Errorf("expected alert counter +1, got %v", after-before)
	}

	// A persisting condition is raised again on the next period.
	clock.Advance(30 * time.Second)
	if again := mon.Check(); len(again) != 4 {
		t.Errorf("expected alerts re-raised, got %d", len(again))
	}
}

func TestMonitor_AlertsRing(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	src := &staticSource{models: []ModelStatus{{
		Info:    Info{Name: "flaky"},
		Loaded:  true,
		Metrics: ModelMetrics{TotalPredictions: 10, ErrorCount: 5, LastUsedAt: clock.Now()},
	}}}
	cfg := DefaultMonitorConfig()
	cfg.MaxAlerts = 3
	mon := NewMonitor(src, cfg, zerolog.Nop())
	mon.now = clock.Now

	for i := 0; i < 5; i++ {
		mon.Check()
		clock.Advance(time.Second)
	}

	all := mon.Alerts(0)
	if len(all) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].Timestamp.After(all[i].Timestamp) {
			t.Fatalf("alerts not newest first: %v then %v", all[i-1].Timestamp, all[i].Timestamp)
		}
	}
	if latest := mon.Alerts(1); len(latest) != 1 || !latest[0].Timestamp.Equal(all[0].Timestamp) {
		t.Errorf("expected newest alert, got %+v", latest)
	}
}
