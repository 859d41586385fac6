// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package recommend

import (
	"context"
	"time"

	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/serving"
)

// InteractionType classifies a user action on a feed item.
type InteractionType string

const (
	InteractionView    InteractionType = "view"
	InteractionClick   InteractionType = "click"
	InteractionLike    InteractionType = "like"
	InteractionShare   InteractionType = "share"
	InteractionConvert InteractionType = "convert"
	InteractionSkip    InteractionType = "skip"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionView, InteractionClick, InteractionLike, InteractionShare, InteractionConvert, InteractionSkip:
		return true
	default:
		return false
	}
}

// Weight returns the implicit-feedback strength of the interaction.
// Higher values indicate stronger positive signal.
func (t InteractionType) Weight() float64 {
	switch t {
	case InteractionConvert, InteractionShare:
		return 1.0
	case InteractionLike:
		return 0.8
	case InteractionClick:
		return 0.5
	case InteractionView:
		return 0.3
	default:
		return 0
	}
}

// Interaction is one user action fed back into the generators.
type Interaction struct {
	UserID    string          `json:"user_id"`
	ItemID    string          `json:"item_id"`
	Type      InteractionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candidate is an organic item on its way through retrieval and ranking.
type Candidate struct {
	// ID is the item identifier. Duplicates are collapsed, first wins.
	ID string `json:"id" validate:"required"`

	// Source names the generator that produced the candidate.
	Source string `json:"source"`

	// RetrievalScore is the generator's own relevance in [0,1].
	RetrievalScore float64 `json:"retrieval_score" validate:"finite,gte=0"`

	// Score is the blended ranking score, set by RankCandidates.
	Score float64 `json:"score"`

	// Scores is the per-signal breakdown of Score.
	Scores map[string]float64 `json:"scores,omitempty"`

	PublishedAt time.Time `json:"published_at,omitempty"`

	// Features and Embedding are hydrated from the item feature bundle.
	Features  map[string]float64 `json:"-"`
	Embedding []float64          `json:"-"`
}

// GenerateRequest carries the inputs shared by all generators.
type GenerateRequest struct {
	UserID  string
	User    features.Bundle
	Context features.Bundle
	Limit   int
}

// RankResult is the outcome of RankCandidates.
type RankResult struct {
	Candidates []Candidate `json:"candidates"`

	// Degraded is true when model scoring failed for every candidate and the
	// list is the unranked deduplicated input.
	Degraded bool `json:"degraded"`

	// Failed counts candidates whose model score could not be computed.
	Failed int `json:"failed"`
}

// Generator produces candidates for one retrieval strategy.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) ([]Candidate, error)
}

// Observer is implemented by generators that learn from interactions.
type Observer interface {
	Observe(in Interaction)
}

// Reranker post-processes the ranked list.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, candidates []Candidate, k int) []Candidate
}

// Scorer scores a feature vector with a named model. *serving.Orchestrator
// implements it.
type Scorer interface {
	Score(ctx context.Context, model string, f serving.Features) (float64, error)
}

// ItemFeatureSource hydrates candidates with item features. *features.FeatureStore
// implements it.
type ItemFeatureSource interface {
	GetItemFeaturesBatch(ctx context.Context, itemIDs []string) map[string]features.Bundle
}

// PopularitySource reports a normalized popularity in [0,1] per item.
type PopularitySource interface {
	Popularity(itemID string) float64
}

// Stats are the engine's running counters.
type Stats struct {
	GenerateCalls     int64 `json:"generate_calls"`
	RankCalls         int64 `json:"rank_calls"`
	DegradedRankings  int64 `json:"degraded_rankings"`
	CandidateFailures int64 `json:"candidate_failures"`
	Rejected          int64 `json:"rejected"`
	Interactions      int64 `json:"interactions"`
}
