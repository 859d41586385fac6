// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/feedrank/internal/metrics"
)

func newPacing(cfg PacingConfig, clock *testClock) *PacingController {
	p := NewPacingController(cfg, zerolog.Nop())
	p.now = clock.Now
	return p
}

func TestPacing_ComputePaceClamp(t *testing.T) {
	t.Parallel()

	p := NewPacingController(PacingConfig{Kp: 5, MinOutput: 0.2, MaxOutput: 1.5}, zerolog.Nop())
	budget := decimal.NewFromInt(100)
	day := 24 * time.Hour

	tests := []struct {
		name    string
		spent   int64
		elapsed time.Duration
	}{
		{"far behind", 0, day},
		{"far ahead", 500, 0},
		{"on track", 50, day / 2},
		{"slightly ahead", 55, day / 2},
		{"overspent", 10_000, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pace := p.ComputePace(budget, decimal.NewFromInt(tt.spent), tt.elapsed)
			if pace < 0.2 || pace > 1.5 || math.IsNaN(pace) {
				t.Errorf("pace = %v outside [0.2, 1.5]", pace)
			}
		})
	}

	if pace := p.ComputePace(budget, decimal.NewFromInt(50), day/2); math.Abs(pace-1) > 1e-9 {
		t.Errorf("on-track pace = %v, want 1", pace)
	}
	if pace := p.ComputePace(budget, decimal.NewFromInt(0), day); pace != 1.5 {
		t.Errorf("behind pace = %v, want max 1.5", pace)
	}
	if pace := p.ComputePace(budget, decimal.NewFromInt(500), 0); pace != 0.2 {
		t.Errorf("ahead pace = %v, want min 0.2", pace)
	}
}

func TestPacing_Status(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	p := newPacing(PacingConfig{}, clock)
	if err := p.RegisterCampaign("c", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("RegisterCampaign: %v", err)
	}

	p.RecordSpend("c", decimal.NewFromInt(90))
	if got := p.GetPacingStatus("c"); got != StatusNormal {
		t.Errorf("at 0.90 status = %s, want NORMAL", got)
	}
	p.RecordSpend("c", decimal.NewFromInt(1))
	if got := p.GetPacingStatus("c"); got != StatusThrottled {
		t.Errorf("at 0.91 status = %s, want THROTTLED", got)
	}
	p.RecordSpend("c", decimal.NewFromInt(9))
	if got := p.GetPacingStatus("c"); got != StatusThrottled {
		t.Errorf("at 1.00 status = %s, want THROTTLED", got)
	}
	p.RecordSpend("c", decimal.RequireFromString("0.01"))
	if got := p.GetPacingStatus("c"); got != StatusPausedOverspend {
		t.Errorf("above 1.00 status = %s, want PAUSED_OVERSPEND", got)
	}

	if got := p.GetPacingStatus("unknown"); got != StatusNormal {
		t.Errorf("unknown campaign status = %s, want NORMAL", got)
	}

	// A new budget period resets spend.
	clock.Advance(24 * time.Hour)
	if got := p.GetPacingStatus("c"); got != StatusNormal {
		t.Errorf("after rollover status = %s, want NORMAL", got)
	}
}

func TestPacing_RegisterRejectsBadBudget(t *testing.T) {
	t.Parallel()

	p := NewPacingController(PacingConfig{}, zerolog.Nop())
	for _, b := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if err := p.RegisterCampaign("c", b); !errors.Is(err, ErrInvalidBudget) {
			t.Errorf("budget %s: err = %v, want ErrInvalidBudget", b, err)
		}
	}
}

func TestPacing_UpdateAndFilter(t *testing.T) {
	clock := newTestClock()
	p := newPacing(PacingConfig{Kp: 1, MinOutput: 0.1, MaxOutput: 2}, clock)
	_ = p.RegisterCampaign("fast", decimal.NewFromInt(100))
	_ = p.RegisterCampaign("broke", decimal.NewFromInt(10))

	clock.Advance(12 * time.Hour)
	p.RecordSpend("fast", decimal.NewFromInt(75))
	p.RecordSpend("broke", decimal.NewFromInt(11))
	p.Update()

	// expected 50, spent 75: 1 + (50-75)/100 = 0.75
	if pace := p.Pace("fast"); math.Abs(pace-0.75) > 1e-9 {
		t.Errorf("fast pace = %v, want 0.75", pace)
	}
	if got := testutil.ToFloat64(metrics.CampaignPace.WithLabelValues("fast")); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("pace gauge = %v, want 0.75", got)
	}

	cands := []AdCandidate{
		{ID: "a", CampaignID: "fast"},
		{ID: "b", CampaignID: "broke"},
		{ID: "c", CampaignID: "unregistered"},
	}
	got := p.FilterByBudgetPacing(cands)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("filtered = %+v, want a and c", got)
	}

	snaps := p.Campaigns()
	if len(snaps) != 2 || snaps[0].CampaignID != "broke" || snaps[0].Status != StatusPausedOverspend {
		t.Errorf("Campaigns = %+v", snaps)
	}
}
