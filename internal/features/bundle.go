// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/feedrank/internal/cache"
)

var (
	// ErrNotFound is returned when no bundle exists for a key.
	ErrNotFound = errors.New("feature bundle not found")

	// ErrStore marks a failure of the persistent store.
	ErrStore = errors.New("feature store unavailable")
)

// Class identifies what a bundle describes. The class selects the cache TTL.
type Class string

const (
	ClassUser    Class = "user"
	ClassItem    Class = "item"
	ClassContext Class = "context"
)

// TTLClass maps the feature class onto the inference cache TTL classes.
func (c Class) TTLClass() cache.TTLClass {
	switch c {
	case ClassUser:
		return cache.ClassUser
	case ClassItem:
		return cache.ClassItem
	default:
		return cache.ClassContext
	}
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassUser || c == ClassItem || c == ClassContext
}

// Bundle is a typed feature payload for one user, item or request context.
type Bundle struct {
	Class     Class              `json:"class"`
	ID        string             `json:"id"`
	Values    map[string]float64 `json:"values,omitempty"`
	Embedding []float64          `json:"embedding,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Empty reports whether the bundle carries no features at all.
func (b Bundle) Empty() bool {
	return len(b.Values) == 0 && len(b.Embedding) == 0
}

// Value returns the named feature or def when absent.
func (b Bundle) Value(name string, def float64) float64 {
	if v, ok := b.Values[name]; ok {
		return v
	}
	return def
}

// Key is the storage key for a bundle of class c and id.
func Key(c Class, id string) string {
	return fmt.Sprintf("features:%s:%s", c, id)
}

// Store is the persistent feature database.
// Get returns ErrNotFound for unknown keys; any other error means the store is unhealthy.
type Store interface {
	Get(ctx context.Context, key string) (Bundle, error)
	Set(ctx context.Context, key string, bundle Bundle, ttl time.Duration) error
}
