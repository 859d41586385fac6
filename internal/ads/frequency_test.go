// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFrequency(cfg FrequencyConfig, clock *testClock) *FrequencyManager {
	f := NewFrequencyManager(cfg, zerolog.Nop())
	f.now = clock.Now
	return f
}

func TestFrequency_PerCampaignCap(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	f := newFrequency(FrequencyConfig{PerCampaign: 3, Window: 24 * time.Hour}, clock)
	cands := []AdCandidate{{ID: "x1", CampaignID: "X"}, {ID: "y1", CampaignID: "Y"}}

	for i := 0; i < 3; i++ {
		if got := f.FilterByFrequencyCaps(cands, "U"); len(got) != 2 {
			t.Fatalf("impression %d: eligible = %d, want 2", i, len(got))
		}
		f.RecordImpression("U", "X")
	}

	got := f.FilterByFrequencyCaps(cands, "U")
	if len(got) != 1 || got[0].CampaignID != "Y" {
		t.Fatalf("after cap eligible = %+v, want only Y", got)
	}
	if n := f.Impressions("U", "X"); n != 3 {
		t.Errorf("Impressions = %d, want 3", n)
	}
	if !f.Allowed("other", "X") {
		t.Error("cap leaked to another user")
	}

	clock.Advance(24 * time.Hour)
	if !f.Allowed("U", "X") {
		t.Error("cap still applied after the window elapsed")
	}
	if n := f.Impressions("U", "X"); n != 0 {
		t.Errorf("Impressions after window = %d, want 0", n)
	}
}

func TestFrequency_HourlyCeiling(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	f := newFrequency(FrequencyConfig{PerCampaign: 100, HourlyCap: 2}, clock)
	f.RecordImpression("U", "A")
	f.RecordImpression("U", "B")

	if f.Allowed("U", "C") {
		t.Fatal("hourly ceiling not applied across campaigns")
	}
	clock.Advance(2 * time.Hour)
	if !f.Allowed("U", "C") {
		t.Error("hourly ceiling still applied two hours later")
	}
}

func TestFrequency_Cleanup(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	f := newFrequency(FrequencyConfig{IdleTTL: 7 * 24 * time.Hour}, clock)
	f.RecordImpression("old", "A")
	clock.Advance(6 * 24 * time.Hour)
	f.RecordImpression("recent", "A")
	clock.Advance(36 * time.Hour)

	if removed := f.Cleanup(); removed != 1 {
		t.Fatalf("Cleanup removed %d, want 1", removed)
	}
	if f.Users() != 1 {
		t.Errorf("Users = %d, want 1", f.Users())
	}
}
