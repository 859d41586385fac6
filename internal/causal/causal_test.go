// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package causal

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAssign_Stable(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{GhostProbability: 0.5}, zerolog.Nop())
	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("u%d", i)
		first := e.Assign("camp", user)
		for j := 0; j < 5; j++ {
			if got := e.Assign("camp", user); got != first {
				t.Fatalf("user %s reassigned from %s to %s", user, first, got)
			}
		}
	}
	exp, ok := e.Experiment("camp")
	if !ok {
		t.Fatal("experiment not created")
	}
	if exp.Members != 50 {
		t.Errorf("members = %d, want 50", exp.Members)
	}
}

func TestAssign_Probabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want Group
	}{
		{"all ghost", Config{GhostProbability: 1}, GroupGhost},
		{"all control", Config{ControlProbability: 1}, GroupControl},
		{"all treatment", Config{}, GroupTreatment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(tt.cfg, zerolog.Nop())
			for i := 0; i < 20; i++ {
				if got := e.Assign("c", fmt.Sprintf("u%d", i)); got != tt.want {
					t.Fatalf("Assign = %s, want %s", got, tt.want)
				}
			}
			if tt.want == GroupGhost && !e.ShouldShowGhostAd("c", "u0") {
				t.Error("ShouldShowGhostAd = false for ghost member")
			}
		})
	}
}

func TestIncrementality(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{GhostProbability: 0.5, MinSample: 10}, zerolog.Nop())
	if got := e.IncrementalityScore("c"); got != 1.0 {
		t.Fatalf("fresh experiment score = %v, want 1.0", got)
	}

	var treat, hold []string
	for i := 0; len(treat) < 20 || len(hold) < 20; i++ {
		u := fmt.Sprintf("u%d", i)
		if e.Assign("c", u).Withheld() {
			hold = append(hold, u)
		} else {
			treat = append(treat, u)
		}
	}
	treat, hold = treat[:20], hold[:20]
	for _, u := range treat {
		e.RecordExposure("c", u)
	}
	for _, u := range hold {
		e.RecordExposure("c", u)
	}
	// 6/20 treatment conversions against 4/20 holdout conversions.
	for _, u := range treat[:6] {
		e.RecordOutcome("c", u, true)
	}
	for _, u := range hold[:4] {
		e.RecordOutcome("c", u, true)
	}
	if got := e.IncrementalityScore("c"); math.Abs(got-1.5) > 1e-9 {
		t.Errorf("score = %v, want 1.5", got)
	}

	// Five times the holdout rate is clamped.
	for _, u := range hold[4:] {
		e.RecordOutcome("c", u, false)
	}
	for _, u := range treat[6:] {
		e.RecordOutcome("c", u, true)
	}
	if got := e.IncrementalityScore("c"); got != 2.0 {
		t.Errorf("clamped score = %v, want 2.0", got)
	}
}

func TestIncrementality_BelowSample(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{ControlProbability: 0.5, MinSample: 1000}, zerolog.Nop())
	for i := 0; i < 100; i++ {
		u := fmt.Sprintf("u%d", i)
		e.RecordExposure("c", u)
		e.RecordOutcome("c", u, true)
	}
	if got := e.IncrementalityScore("c"); got != 1.0 {
		t.Errorf("score = %v, want 1.0 before the minimum sample", got)
	}
}

func TestExperiment_Rollover(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(Config{Duration: time.Hour}, zerolog.Nop())
	e.now = func() time.Time { return now }

	e.Assign("c", "u1")
	first, _ := e.Experiment("c")

	now = now.Add(2 * time.Hour)
	e.Assign("c", "u1")
	second, _ := e.Experiment("c")

	if first.ID == second.ID {
		t.Error("expired experiment was not replaced")
	}
	if !second.Start.Equal(now) {
		t.Errorf("start = %v, want %v", second.Start, now)
	}
	if got := len(e.Experiments()); got != 1 {
		t.Errorf("experiments = %d, want 1", got)
	}
}
