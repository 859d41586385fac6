// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package generators

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tomtom215/feedrank/internal/recommend"
)

// Trending ranks items by exponentially decayed interaction weight:
//
//	score(t) = score(t0) * 2^(-(t - t0) / halfLife) + weight
//
// Scores are decayed lazily on touch and on read.
type Trending struct {
	halfLife time.Duration
	maxItems int
	now      func() time.Time

	mu    sync.RWMutex
	items map[string]*trendEntry
}

type trendEntry struct {
	score     float64
	updatedAt time.Time
}

// TrendingConfig contains configuration for the trending generator.
type TrendingConfig struct {
	// HalfLife is the decay half-life of interaction weight.
	HalfLife time.Duration

	// MaxItems bounds tracked items; the weakest are pruned past it.
	MaxItems int
}

// NewTrending creates a trending generator.
func NewTrending(cfg TrendingConfig) *Trending {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 6 * time.Hour
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100000
	}
	return &Trending{
		halfLife: cfg.HalfLife,
		maxItems: cfg.MaxItems,
		now:      time.Now,
		items:    make(map[string]*trendEntry),
	}
}

// Name returns the generator identifier.
func (t *Trending) Name() string { return "trending" }

// Observe adds the interaction's weight to the item's decayed score.
//
//nolint:gocritic // Interaction passed by value for immutability
func (t *Trending) Observe(in recommend.Interaction) {
	w := in.Type.Weight()
	if w <= 0 || in.ItemID == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[in.ItemID]
	if !ok {
		e = &trendEntry{updatedAt: now}
		t.items[in.ItemID] = e
	}
	e.score = t.decay(e, now) + w
	e.updatedAt = now

	if len(t.items) > t.maxItems {
		t.pruneLocked(now)
	}
}

// Score returns the current decayed score of an item.
func (t *Trending) Score(itemID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.items[itemID]
	if !ok {
		return 0
	}
	return t.decay(e, t.now())
}

// Popularity maps the decayed score to [0,1) as s/(1+s).
func (t *Trending) Popularity(itemID string) float64 {
	s := t.Score(itemID)
	return s / (1 + s)
}

// Generate returns the top items by decayed score. User features are ignored.
//
//nolint:gocritic // GenerateRequest passed by value for immutability
func (t *Trending) Generate(ctx context.Context, req recommend.GenerateRequest) ([]recommend.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := t.now()

	t.mu.RLock()
	all := make([]scored, 0, len(t.items))
	for id, e := range t.items {
		all = append(all, scored{id: id, score: t.decay(e, now)})
	}
	t.mu.RUnlock()

	return topK(t.Name(), all, req.Limit), nil
}

// Len returns the number of tracked items.
func (t *Trending) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func (t *Trending) decay(e *trendEntry, now time.Time) float64 {
	dt := now.Sub(e.updatedAt)
	if dt <= 0 {
		return e.score
	}
	return e.score * math.Exp2(-float64(dt)/float64(t.halfLife))
}

// pruneLocked drops the lowest-scoring tenth of items. Caller holds mu.
func (t *Trending) pruneLocked(now time.Time) {
	all := make([]scored, 0, len(t.items))
	for id, e := range t.items {
		all = append(all, scored{id: id, score: t.decay(e, now)})
	}
	keep := topK("", all, t.maxItems-t.maxItems/10)
	kept := make(map[string]*trendEntry, len(keep))
	for _, c := range keep {
		kept[c.ID] = t.items[c.ID]
	}
	t.items = kept
}

var (
	_ recommend.Generator        = (*Trending)(nil)
	_ recommend.Observer         = (*Trending)(nil)
	_ recommend.PopularitySource = (*Trending)(nil)
)
