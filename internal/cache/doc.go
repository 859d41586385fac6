// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package cache provides the inference cache and the counting structures used by
the decisioning pipeline.

# Inference Cache

InferenceCache stores model outputs and feature bundles under canonical keys
with a time-to-live chosen by TTLClass:

	engagement 5m, ctr 10m, cvr 30m, embedding 1h, content_embedding 24h
	user 1h, item 24h, context 5m

Every entry carries its own expiry. Get on an expired key is a miss and
removes the entry. Backend errors are counted in Stats.Errors and never
returned, so a broken cache degrades to cache-less operation.

	c := cache.NewInferenceCache(cache.NewMemoryStore(100000), cache.Config{}, logger)
	key := cache.Key("ctr_v3", features)
	if raw, ok := c.Get(ctx, key, cache.ClassCTR); ok {
	    // use raw
	}

# Stores

MemoryStore is a bounded LRU with per-entry TTL. Any Store implementation can
be substituted; a remote store only needs Get, Set and Delete.

# Sliding Windows

SlidingWindowCounter counts events over a rolling window using a ring of
buckets. The clock is injected for deterministic tests.

# Thread Safety

All types in this package are safe for concurrent use.
*/
package cache
