// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package recommend

import (
	"sort"
	"sync"
	"time"
)

// Item is the catalog entry of a piece of organic content.
type Item struct {
	ID          string    `json:"id"`
	Embedding   []float64 `json:"embedding,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Catalog is the in-process index of rankable items. Safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]Item)}
}

// Upsert adds or replaces an item.
func (c *Catalog) Upsert(item Item) {
	if item.ID == "" {
		return
	}
	c.mu.Lock()
	c.items[item.ID] = item
	c.mu.Unlock()
}

// Remove deletes an item.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

// Get returns the item with the given id.
func (c *Catalog) Get(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns a snapshot sorted by id.
func (c *Catalog) Items() []Item {
	c.mu.RLock()
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
