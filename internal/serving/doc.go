// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package serving hosts the learned models used by ranking and the auction.

A Model wraps a Runtime (LinearRuntime for JSON artifacts, FuncRuntime for
in-process functions) with load state and running metrics. The Orchestrator
owns the registry, answers repeated predictions from the inference cache, and
batches the rest through a priority queue drained by Run:

	orch := serving.New(inferenceCache, serving.DefaultConfig(), logger)
	_ = orch.LoadModel(ctx, serving.ModelSpec{Name: "ctr", Path: "models/ctr.json",
		Class: cache.ClassCTR, Runtime: serving.NewLinearRuntime()})
	go orch.Run(ctx)
	score, err := orch.Score(ctx, "ctr", serving.Features{"hour": 9})

The Monitor compares each loaded model against latency, error rate, accuracy
and idleness thresholds every period and keeps the raised alerts in a ring.
*/
package serving
