// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package main is the entry point of the feedrank server.

The server wires the ranking and ad decisioning engine from configuration
and runs its loops under a Suture v4 supervisor tree:

	RootSupervisor ("feedrank")
	├── serving-layer
	│   ├── inference-batcher (priority queue, micro-batches)
	│   └── model-monitor (latency, error rate, accuracy, staleness)
	├── control-layer
	│   ├── budget-pacing (proportional controller per campaign)
	│   ├── state-cleanup (frequency counters, served ads, cache)
	│   ├── bandit-persist (arm statistics to BadgerDB)
	│   └── badger-gc (value log GC)
	├── data-layer
	│   └── decision-events (buffered flush to NATS and DuckDB)
	└── api-layer
	    └── HTTP server (admin, feed, feedback)

Initialization order:

 1. Configuration: koanf v2 (defaults, YAML file, environment)
 2. Logging: zerolog, bridged to slog for the supervisor
 3. Storage: BadgerDB feature store behind a circuit breaker, two-tier inference cache
 4. Decision events: Watermill NATS publisher and DuckDB archive, each behind a breaker
 5. Serving: model orchestrator and health monitor
 6. Recommendation: candidate generators, blended ranking, MMR diversity
 7. Ads: pacing, frequency capping, contextual bandit, causal experiments, auction
 8. Feed facade and HTTP router

A model that fails to load is logged and skipped; ranking degrades to the
remaining signals. SIGINT and SIGTERM stop the tree, then pending decision
events are flushed and bandit state is persisted before the stores close.
*/
package main
