// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package services adapts engine components to suture.Service.
//
//   - HTTPServerService: ListenAndServe with graceful Shutdown
//   - TickerService: periodic work (frequency cleanup, bandit persistence, badger GC)
//   - RunnerService: components with their own Run(ctx) loop
package services
