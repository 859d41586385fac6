// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"sort"
	"sync"

	"github.com/tomtom215/feedrank/internal/validation"
)

// Inventory holds the live ad candidates. Safe for concurrent use.
type Inventory struct {
	mu  sync.RWMutex
	ads map[string]AdCandidate
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{ads: make(map[string]AdCandidate)}
}

// Upsert validates and stores ad. An empty CampaignID defaults to the ad id.
//
//nolint:gocritic // AdCandidate passed by value for immutability
func (inv *Inventory) Upsert(ad AdCandidate) error {
	if ad.CampaignID == "" {
		ad.CampaignID = ad.ID
	}
	if err := validation.Validate(&ad); err != nil {
		return err
	}
	inv.mu.Lock()
	inv.ads[ad.ID] = ad
	inv.mu.Unlock()
	return nil
}

// Remove deletes an ad.
func (inv *Inventory) Remove(id string) {
	inv.mu.Lock()
	delete(inv.ads, id)
	inv.mu.Unlock()
}

// Get returns one ad.
func (inv *Inventory) Get(id string) (AdCandidate, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	ad, ok := inv.ads[id]
	return ad, ok
}

// Candidates returns every ad ordered by id.
func (inv *Inventory) Candidates() []AdCandidate {
	inv.mu.RLock()
	out := make([]AdCandidate, 0, len(inv.ads))
	for _, ad := range inv.ads {
		out = append(out, ad)
	}
	inv.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of ads.
func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.ads)
}
