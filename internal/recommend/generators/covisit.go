// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package generators

import (
	"context"
	"sync"

	"github.com/tomtom215/feedrank/internal/recommend"
)

// CoVisitation implements collaborative retrieval by co-visitation.
// It recommends items that other users engaged with next to the items in
// this user's recent history.
//
// The model is a sparse co-occurrence matrix updated online:
//
//	covisit[a][b] += w  for each pair (a, b) within Window positions of a user history
//
// Prediction sums covisit[h][*] over the user's history h, excluding items
// the user has already seen.
type CoVisitation struct {
	historySize  int
	window       int
	maxNeighbors int

	mu           sync.RWMutex
	histories    map[string][]string
	cooccurrence map[string]map[string]float64
}

// CoVisitConfig contains configuration for the co-visitation generator.
type CoVisitConfig struct {
	// HistorySize is the number of recent items kept per user.
	HistorySize int

	// Window is how many preceding history items pair with a new one.
	Window int

	// MaxNeighbors bounds the row length of the co-occurrence matrix.
	MaxNeighbors int
}

// NewCoVisitation creates a co-visitation generator.
func NewCoVisitation(cfg CoVisitConfig) *CoVisitation {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 50
	}
	if cfg.Window < 1 {
		cfg.Window = 5
	}
	if cfg.MaxNeighbors < 1 {
		cfg.MaxNeighbors = 200
	}
	return &CoVisitation{
		historySize:  cfg.HistorySize,
		window:       cfg.Window,
		maxNeighbors: cfg.MaxNeighbors,
		histories:    make(map[string][]string),
		cooccurrence: make(map[string]map[string]float64),
	}
}

// Name returns the generator identifier.
func (c *CoVisitation) Name() string { return "covisit" }

// Observe appends the item to the user's history and updates co-occurrence
// with the preceding Window items.
//
//nolint:gocritic // Interaction passed by value for immutability
func (c *CoVisitation) Observe(in recommend.Interaction) {
	w := in.Type.Weight()
	if w <= 0 || in.UserID == "" || in.ItemID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hist := c.histories[in.UserID]
	start := len(hist) - c.window
	if start < 0 {
		start = 0
	}
	for _, prev := range hist[start:] {
		if prev == in.ItemID {
			continue
		}
		c.bump(prev, in.ItemID, w)
		c.bump(in.ItemID, prev, w)
	}

	hist = append(hist, in.ItemID)
	if len(hist) > c.historySize {
		hist = append([]string(nil), hist[len(hist)-c.historySize:]...)
	}
	c.histories[in.UserID] = hist
}

// bump adds w to covisit[a][b], evicting a's weakest neighbor when the row
// is full. Caller holds mu.
func (c *CoVisitation) bump(a, b string, w float64) {
	row := c.cooccurrence[a]
	if row == nil {
		row = make(map[string]float64)
		c.cooccurrence[a] = row
	}
	if _, ok := row[b]; !ok && len(row) >= c.maxNeighbors {
		weakest, lowest := "", 0.0
		for id, s := range row {
			if weakest == "" || s < lowest {
				weakest, lowest = id, s
			}
		}
		delete(row, weakest)
	}
	row[b] += w
}

// History returns a copy of the user's recent items, oldest first.
func (c *CoVisitation) History(userID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.histories[userID]...)
}

// Generate scores items by total co-occurrence with the user's history.
//
//nolint:gocritic // GenerateRequest passed by value for immutability
func (c *CoVisitation) Generate(ctx context.Context, req recommend.GenerateRequest) ([]recommend.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	hist := c.histories[req.UserID]
	seen := make(map[string]struct{}, len(hist))
	for _, id := range hist {
		seen[id] = struct{}{}
	}
	sums := make(map[string]float64)
	for _, h := range hist {
		for other, s := range c.cooccurrence[h] {
			if _, ok := seen[other]; ok {
				continue
			}
			sums[other] += s
		}
	}
	c.mu.RUnlock()

	all := make([]scored, 0, len(sums))
	for id, s := range sums {
		all = append(all, scored{id: id, score: s})
	}
	return topK(c.Name(), all, req.Limit), nil
}

var (
	_ recommend.Generator = (*CoVisitation)(nil)
	_ recommend.Observer  = (*CoVisitation)(nil)
)
