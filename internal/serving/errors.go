// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import "errors"

var (
	// ErrModelLoad means the artifact is missing or malformed. It is fatal to
	// that model only; the rest of the registry keeps serving.
	ErrModelLoad = errors.New("model load failed")

	// ErrModelNotLoaded is returned for predictions against a model that has
	// not been loaded successfully (or is not registered).
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrInference wraps a runtime failure during prediction.
	ErrInference = errors.New("inference failed")

	// ErrPredictionTimeout is returned to a caller whose task was not
	// serviced within the prediction timeout.
	ErrPredictionTimeout = errors.New("prediction timed out")

	// ErrQueueFull is returned when the prediction queue is at capacity.
	ErrQueueFull = errors.New("prediction queue full")

	// ErrOrchestratorClosed is returned for tasks still queued at shutdown
	// and for submissions after Close.
	ErrOrchestratorClosed = errors.New("orchestrator closed")
)
