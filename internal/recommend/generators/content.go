// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package generators

import (
	"context"

	"github.com/tomtom215/feedrank/internal/recommend"
)

// Content implements content-based retrieval. It scores every catalog item
// by cosine similarity between the user embedding and the item embedding.
// Users without an embedding get no content candidates.
type Content struct {
	catalog       *recommend.Catalog
	minSimilarity float64
}

// ContentConfig contains configuration for the content generator.
type ContentConfig struct {
	// MinSimilarity drops items below this cosine similarity.
	MinSimilarity float64
}

// NewContent creates a content generator over catalog.
func NewContent(catalog *recommend.Catalog, cfg ContentConfig) *Content {
	return &Content{catalog: catalog, minSimilarity: cfg.MinSimilarity}
}

// Name returns the generator identifier.
func (c *Content) Name() string { return "content" }

// Generate returns the most similar items to the user embedding.
//
//nolint:gocritic // GenerateRequest passed by value for immutability
func (c *Content) Generate(ctx context.Context, req recommend.GenerateRequest) ([]recommend.Candidate, error) {
	if len(req.User.Embedding) == 0 || c.catalog == nil {
		return nil, nil
	}

	items := c.catalog.Items()
	all := make([]scored, 0, len(items))
	for i, item := range items {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(item.Embedding) == 0 {
			continue
		}
		sim := recommend.Cosine(req.User.Embedding, item.Embedding)
		if sim <= 0 || sim < c.minSimilarity {
			continue
		}
		all = append(all, scored{id: item.ID, score: sim})
	}

	out := topK(c.Name(), all, req.Limit)
	for i := range out {
		if item, ok := c.catalog.Get(out[i].ID); ok {
			out[i].Embedding = item.Embedding
			out[i].PublishedAt = item.PublishedAt
		}
	}
	return out, nil
}

var _ recommend.Generator = (*Content)(nil)
