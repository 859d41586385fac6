// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package reranking

import (
	"context"

	"github.com/tomtom215/feedrank/internal/recommend"
)

// maxRerankSize bounds the quadratic similarity work.
const maxRerankSize = 1000

// MMR implements Maximal Marginal Relevance reranking over item embeddings.
// It iteratively picks the candidate maximizing
//
//	lambda * score(i) - (1-lambda) * max(sim(i, s)) for s in selected
//
// where sim is the cosine similarity of embeddings clamped to [0,1].
// Candidates without an embedding are never penalized.
//
// Reference:
// Carbonell, J., & Goldstein, J. (1998). "The Use of MMR, Diversity-Based
// Reranking for Reordering Documents and Producing Summaries." SIGIR 1998.
type MMR struct {
	lambda float64
}

// NewMMR creates a new MMR reranker. lambda is clamped to [0,1].
func NewMMR(lambda float64) *MMR {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	return &MMR{lambda: lambda}
}

// Name returns the reranker identifier.
func (m *MMR) Name() string {
	return "mmr"
}

// Rerank returns the first k candidates in MMR order.
func (m *MMR) Rerank(ctx context.Context, items []recommend.Candidate, k int) []recommend.Candidate {
	if len(items) == 0 || k <= 0 {
		return items
	}
	if k > maxRerankSize {
		k = maxRerankSize
	}
	if k > len(items) {
		k = len(items)
	}
	if m.lambda >= 1.0 {
		return items[:k]
	}

	selected := make([]recommend.Candidate, 0, k)
	used := make([]bool, len(items))
	// maxSim[i] is the highest similarity of item i to anything selected so far.
	maxSim := make([]float64, len(items))

	for len(selected) < k {
		if ctx.Err() != nil {
			break
		}
		bestIdx := -1
		bestMMR := 0.0
		for i := range items {
			if used[i] {
				continue
			}
			score := m.lambda*items[i].Score - (1-m.lambda)*maxSim[i]
			if bestIdx < 0 || score > bestMMR {
				bestIdx, bestMMR = i, score
			}
		}
		if bestIdx < 0 {
			break
		}

		used[bestIdx] = true
		picked := items[bestIdx]
		selected = append(selected, picked)
		for i := range items {
			if used[i] {
				continue
			}
			if s := similarity(picked.Embedding, items[i].Embedding); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}

	// Fill with the remaining relevance order if cancelled early.
	for i := range items {
		if len(selected) >= k {
			break
		}
		if !used[i] {
			selected = append(selected, items[i])
		}
	}
	return selected
}

func similarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	s := recommend.Cosine(a, b)
	if s < 0 {
		return 0
	}
	return s
}

var _ recommend.Reranker = (*MMR)(nil)
