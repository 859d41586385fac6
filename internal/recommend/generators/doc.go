// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package generators implements the candidate generators merged by the
// recommendation engine.
//
// # Generators
//
//   - CoVisitation: items that co-occur in recent user histories
//   - Content: cosine similarity between the user embedding and item embeddings
//   - Trending: exponentially decayed interaction counts (also the popularity
//     signal and the non-personalized fallback)
//
// # Thread Safety
//
// All generators are safe for concurrent use. Observe takes an exclusive lock
// and Generate a shared lock.
package generators

import (
	"sort"

	"github.com/tomtom215/feedrank/internal/recommend"
)

type scored struct {
	id    string
	score float64
}

// topK sorts by score descending (ties by id) and converts the first k
// entries to candidates with scores normalized by the maximum.
func topK(source string, all []scored, k int) []recommend.Candidate {
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	if len(all) == 0 {
		return nil
	}

	maxScore := all[0].score
	out := make([]recommend.Candidate, len(all))
	for i, s := range all {
		norm := 0.0
		if maxScore > 0 {
			norm = s.score / maxScore
		}
		out[i] = recommend.Candidate{ID: s.id, Source: source, RetrievalScore: norm}
	}
	return out
}
