// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/cache"
	"github.com/tomtom215/feedrank/internal/metrics"
)

// FrequencyConfig configures impression caps.
type FrequencyConfig struct {
	// PerCampaign caps impressions of one campaign per user per Window.
	PerCampaign int
	Window      time.Duration

	// HourlyCap, DailyCap and WeeklyCap are per-user ceilings across all
	// campaigns. Zero disables a ceiling.
	HourlyCap int
	DailyCap  int
	WeeklyCap int

	// IdleTTL drops users with no impression for this long.
	IdleTTL time.Duration
}

// DefaultFrequencyConfig returns the production caps.
func DefaultFrequencyConfig() FrequencyConfig {
	return FrequencyConfig{
		PerCampaign: 3,
		Window:      24 * time.Hour,
		HourlyCap:   10,
		DailyCap:    50,
		WeeklyCap:   200,
		IdleTTL:     7 * 24 * time.Hour,
	}
}

type campaignCount struct {
	count       int
	windowStart time.Time
}

// userRecord is the frequency state of one user, serialized by its own mutex.
type userRecord struct {
	mu        sync.Mutex
	campaigns map[string]*campaignCount
	hour      *cache.SlidingWindowCounter
	day       *cache.SlidingWindowCounter
	week      *cache.SlidingWindowCounter
	lastSeen  time.Time
}

// FrequencyManager tracks per-user impression counts. Counts are
// per-process and best effort.
type FrequencyManager struct {
	cfg    FrequencyConfig
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]*userRecord
}

// NewFrequencyManager creates a frequency manager.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewFrequencyManager(cfg FrequencyConfig, logger zerolog.Logger) *FrequencyManager {
	def := DefaultFrequencyConfig()
	if cfg.PerCampaign <= 0 {
		cfg.PerCampaign = def.PerCampaign
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	return &FrequencyManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "frequency").Logger(),
		now:    time.Now,
		users:  make(map[string]*userRecord),
	}
}

func (f *FrequencyManager) record(userID string, create bool) *userRecord {
	f.mu.RLock()
	rec, ok := f.users[userID]
	f.mu.RUnlock()
	if ok || !create {
		return rec
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok = f.users[userID]; ok {
		return rec
	}
	rec = &userRecord{
		campaigns: make(map[string]*campaignCount),
		hour:      cache.NewSlidingWindowCounter(time.Hour, 12, f.now),
		day:       cache.NewSlidingWindowCounter(24*time.Hour, 24, f.now),
		week:      cache.NewSlidingWindowCounter(7*24*time.Hour, 28, f.now),
		lastSeen:  f.now(),
	}
	f.users[userID] = rec
	return rec
}

// Allowed reports whether userID may see another impression of campaignID.
func (f *FrequencyManager) Allowed(userID, campaignID string) bool {
	rec := f.record(userID, false)
	if rec == nil {
		return true
	}
	now := f.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if f.overCeilingLocked(rec) {
		return false
	}
	cc, ok := rec.campaigns[campaignID]
	if !ok || now.Sub(cc.windowStart) >= f.cfg.Window {
		return true
	}
	return cc.count < f.cfg.PerCampaign
}

func (f *FrequencyManager) overCeilingLocked(rec *userRecord) bool {
	if f.cfg.HourlyCap > 0 && rec.hour.Count() >= int64(f.cfg.HourlyCap) {
		return true
	}
	if f.cfg.DailyCap > 0 && rec.day.Count() >= int64(f.cfg.DailyCap) {
		return true
	}
	return f.cfg.WeeklyCap > 0 && rec.week.Count() >= int64(f.cfg.WeeklyCap)
}

// FilterByFrequencyCaps drops candidates whose campaign is at cap for userID.
func (f *FrequencyManager) FilterByFrequencyCaps(candidates []AdCandidate, userID string) []AdCandidate {
	out := make([]AdCandidate, 0, len(candidates))
	for i := range candidates {
		if f.Allowed(userID, candidates[i].CampaignID) {
			out = append(out, candidates[i])
		}
	}
	metrics.RecordFiltered("frequency", len(candidates)-len(out))
	return out
}

// RecordImpression counts one served impression. A campaign window that
// has elapsed restarts at this impression.
func (f *FrequencyManager) RecordImpression(userID, campaignID string) {
	rec := f.record(userID, true)
	now := f.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	cc, ok := rec.campaigns[campaignID]
	if !ok || now.Sub(cc.windowStart) >= f.cfg.Window {
		cc = &campaignCount{windowStart: now}
		rec.campaigns[campaignID] = cc
	}
	cc.count++
	rec.hour.IncrementOne()
	rec.day.IncrementOne()
	rec.week.IncrementOne()
	rec.lastSeen = now
}

// Impressions returns the count of campaignID for userID in the current window.
func (f *FrequencyManager) Impressions(userID, campaignID string) int {
	rec := f.record(userID, false)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cc, ok := rec.campaigns[campaignID]
	if !ok || f.now().Sub(cc.windowStart) >= f.cfg.Window {
		return 0
	}
	return cc.count
}

// Cleanup drops users idle longer than IdleTTL and expired campaign windows.
// It returns the number of users removed.
func (f *FrequencyManager) Cleanup() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for id, rec := range f.users {
		rec.mu.Lock()
		idle := now.Sub(rec.lastSeen) > f.cfg.IdleTTL
		if !idle {
			for cid, cc := range rec.campaigns {
				if now.Sub(cc.windowStart) >= f.cfg.Window {
					delete(rec.campaigns, cid)
				}
			}
		}
		rec.mu.Unlock()
		if idle {
			delete(f.users, id)
			removed++
		}
	}
	if removed > 0 {
		f.logger.Debug().Int("removed", removed).Int("remaining", len(f.users)).Msg("frequency records cleaned up")
	}
	return removed
}

// Users returns the number of tracked users.
func (f *FrequencyManager) Users() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.users)
}
