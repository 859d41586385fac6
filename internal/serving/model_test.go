// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeArtifact(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := writeFile(path, body); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}

func TestLinearRuntime_Load(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		missing bool
		wantErr bool
	}{
		{name: "valid", body: `{"name":"ctr","version":"v1","bias":0,"weights":{"x":1},"activation":"sigmoid"}`},
		{name: "default activation", body: `{"bias":0,"weights":{"x":1}}`},
		{name: "missing file", missing: true, wantErr: true},
		{name: "bad json", body: `{"weights":`, wantErr: true},
		{name: "no weights", body: `{"weights":{}}`, wantErr: true},
		{name: "unknown activation", body: `{"weights":{"x":1},"activation":"relu"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "absent.json")
			if !tt.missing {
				path = writeArtifact(t, tt.body)
			}
			err := NewLinearRuntime().Load(context.Background(), path)
			if tt.wantErr {
				if !errors.Is(err, ErrModelLoad) {
					t.Fatalf("expected ErrModelLoad, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLinearRuntime_Scores(t *testing.T) {
	t.Parallel()

	rt := NewLinearRuntime()
	path := writeArtifact(t, `{"name":"eng","version":"v2","bias":1,"weights":{"a":2,"b":-1},"activation":"identity"}`)
	if err := rt.Load(context.Background(), path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := rt.BatchPredict(context.Background(), []Features{
		{"a": 1, "b": 1},
		{"a": 0, "unknown": 5},
	})
	if err != nil {
		t.Fatalf("BatchPredict: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if out[0].Score() != 2 {
		t.Errorf("expected 1+2-1=2, got %v", out[0].Score())
	}
	if out[1].Score() != 1 {
		t.Errorf("unknown features should weigh 0, got %v", out[1].Score())
	}
	if info := rt.Describe(); info.Version != "v2" {
		t.Errorf("expected version v2, got %q", info.Version)
	}
}

func TestModel_NotLoaded(t *testing.T) {
	t.Parallel()

	m := NewModel(ModelSpec{Name: "ctr", Runtime: NewLinearRuntime()})
	_, err := m.Predict(context.Background(), Features{"x": 1})
	if !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}
	if got := m.Metrics().ErrorCount; got != 1 {
		t.Errorf("expected error count 1, got %d", got)
	}
}

func TestModel_RunningAverageLatency(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	latencies := []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond}
	call := 0
	rt := &FuncRuntime{PredictFunc: func(_ context.Context, _ Features) (Output, error) {
		clock.Advance(latencies[call])
		call++
		return Output{1}, nil
	}}
	m := NewModel(ModelSpec{Name: "eng", Runtime: rt})
	m.now = clock.Now
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for range latencies {
		if _, err := m.Predict(context.Background(), Features{}); err != nil {
			t.Fatalf("Predict: %v", err)
		}
	}

	got := m.Metrics()
	if got.TotalPredictions != 3 {
		t.Errorf("expected 3 predictions, got %d", got.TotalPredictions)
	}
	if math.Abs(got.AvgLatencyMs-20) > 1e-9 {
		t.Errorf("expected avg 20ms, got %v", got.AvgLatencyMs)
	}
	if !got.LastUsedAt.Equal(clock.Now()) {
		t.Errorf("expected last used at %v, got %v", clock.Now(), got.LastUsedAt)
	}
}

func TestModel_BatchFailsAsAWhole(t *testing.T) {
	t.Parallel()

	rt := &FuncRuntime{PredictFunc: func(_ context.Context, in Features) (Output, error) {
		if in["bad"] == 1 {
			return nil, errors.New("nan input")
		}
		return Output{in["x"]}, nil
	}}
	m := NewModel(ModelSpec{Name: "cvr", Runtime: rt})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := m.BatchPredict(context.Background(), []Features{{"x": 1}, {"bad": 1}, {"x": 2}})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
	if got := m.Metrics(); got.ErrorCount != 3 || got.TotalPredictions != 3 {
		t.Errorf("expected 3 failed predictions, got %+v", got)
	}
}

func TestModel_OutputCountMismatch(t *testing.T) {
	t.Parallel()

	m := NewModel(ModelSpec{Name: "short", Runtime: shortRuntime{}})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.BatchPredict(context.Background(), []Features{{}, {}}); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestModel_PrePostProcess(t *testing.T) {
	t.Parallel()

	rt := &FuncRuntime{PredictFunc: func(_ context.Context, in Features) (Output, error) {
		return Output{in["x"]}, nil
	}}
	m := NewModel(ModelSpec{
		Name:        "scaled",
		Runtime:     rt,
		PreProcess:  func(f Features) Features { return Features{"x": f["x"] * 10} },
		PostProcess: func(o Output) Output { return Output{o[0] + 1} },
	})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := m.Predict(context.Background(), Features{"x": 2})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if out.Score() != 21 {
		t.Errorf("expected 21, got %v", out.Score())
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Priority{"high": PriorityHigh, "LOW": PriorityLow, "normal": PriorityNormal, "": PriorityNormal} {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}

type shortRuntime struct{}

func (shortRuntime) Load(context.Context, string) error { return nil }

func (shortRuntime) BatchPredict(context.Context, []Features) ([]Output, error) {
	return []Output{{1}}, nil
}
