// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package recommend produces the ranked organic part of a feed.
//
// # Architecture
//
// Retrieval and ranking are separate steps:
//
//   - GenerateCandidates runs every registered Generator in parallel and
//     merges their output in registration order. Duplicate ids keep the
//     first occurrence; the merged list is capped at 1000.
//   - RankCandidates scores each candidate with the ranking model through
//     the serving orchestrator, blends the model score with freshness,
//     popularity and personalization, sorts descending and returns the
//     top 50.
//
// A candidate whose model call fails keeps its other signals. When every
// model call fails the engine returns the unranked deduplicated list and
// sets RankResult.Degraded.
//
// # Usage
//
//	engine, err := recommend.NewEngine(recommend.DefaultConfig(), orchestrator, logger)
//	engine.RegisterGenerator(generators.NewCoVisitation(generators.CoVisitConfig{}))
//	engine.RegisterGenerator(generators.NewContent(engine.Catalog(), generators.ContentConfig{}))
//	engine.RegisterGenerator(trending)
//	engine.SetFallback(trending)
//	engine.SetPopularitySource(trending)
//
//	cands := engine.GenerateCandidates(ctx, userID, userFeatures, ctxFeatures)
//	ranked := engine.RankCandidates(ctx, userID, cands, userFeatures)
//
// # Thread Safety
//
// Engine is safe for concurrent use. Generators and rerankers may be
// registered at any time.
package recommend
