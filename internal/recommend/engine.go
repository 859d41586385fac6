// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/metrics"
	"github.com/tomtom215/feedrank/internal/serving"
	"github.com/tomtom215/feedrank/internal/validation"
)

// Engine merges candidate generators and ranks their output with the
// serving layer. It is safe for concurrent use.
type Engine struct {
	config *Config
	logger zerolog.Logger
	now    func() time.Time

	scorer     Scorer
	items      ItemFeatureSource
	popularity PopularitySource
	catalog    *Catalog

	generators []Generator
	fallback   Generator
	rerankers  []Reranker
	algMu      sync.RWMutex

	generateCalls     atomic.Int64
	rankCalls         atomic.Int64
	degraded          atomic.Int64
	candidateFailures atomic.Int64
	rejected          atomic.Int64
	interactions      atomic.Int64
}

// NewEngine creates a recommendation engine. scorer may be nil, in which case
// every ranking is degraded.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg *Config, scorer Scorer, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Engine{
		config:  cfg,
		logger:  logger.With().Str("component", "recommend").Logger(),
		now:     time.Now,
		scorer:  scorer,
		catalog: NewCatalog(),
	}, nil
}

// SetItemFeatureSource sets where candidate item features are hydrated from.
func (e *Engine) SetItemFeatureSource(src ItemFeatureSource) {
	e.items = src
}

// SetPopularitySource sets the popularity signal used in ranking.
func (e *Engine) SetPopularitySource(src PopularitySource) {
	e.popularity = src
}

// SetCatalog replaces the item catalog used for publish times.
func (e *Engine) SetCatalog(c *Catalog) {
	if c != nil {
		e.catalog = c
	}
}

// Catalog returns the item catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// RegisterGenerator adds a generator. Merge order is registration order.
func (e *Engine) RegisterGenerator(g Generator) {
	e.algMu.Lock()
	defer e.algMu.Unlock()

	e.generators = append(e.generators, g)
	e.logger.Info().Str("generator", g.Name()).Msg("registered generator")
}

// SetFallback sets the generator serving non-personalized candidates.
func (e *Engine) SetFallback(g Generator) {
	e.algMu.Lock()
	e.fallback = g
	e.algMu.Unlock()
}

// RegisterReranker adds a reranker applied after scoring.
func (e *Engine) RegisterReranker(rr Reranker) {
	e.algMu.Lock()
	defer e.algMu.Unlock()

	e.rerankers = append(e.rerankers, rr)
	e.logger.Info().Str("reranker", rr.Name()).Msg("registered reranker")
}

type genResult struct {
	name       string
	candidates []Candidate
	err        error
}

// GenerateCandidates runs every generator in parallel and merges their
// output in registration order, keeping the first occurrence of each id, up
// to MaxCandidates. A failing generator is logged and skipped.
//
//nolint:gocritic // Bundle passed by value for immutability
func (e *Engine) GenerateCandidates(ctx context.Context, userID string, user, ctxFeatures features.Bundle) []Candidate {
	e.generateCalls.Add(1)

	e.algMu.RLock()
	generators := e.generators
	e.algMu.RUnlock()

	req := GenerateRequest{UserID: userID, User: user, Context: ctxFeatures, Limit: e.config.PerGeneratorLimit}
	results := make([]genResult, len(generators))
	var wg sync.WaitGroup
	for i, g := range generators {
		wg.Add(1)
		go func(idx int, g Generator) {
			defer wg.Done()
			results[idx] = e.runGenerator(ctx, g, req)
		}(i, g)
	}
	wg.Wait()

	lists := make([][]Candidate, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			e.logger.Warn().Err(r.err).Str("generator", r.name).Str("user_id", userID).Msg("candidate generator failed")
			continue
		}
		metrics.CandidatesGenerated.WithLabelValues(r.name).Observe(float64(len(r.candidates)))
		lists = append(lists, r.candidates)
	}
	return e.merge(lists...)
}

// DefaultCandidates returns the non-personalized fallback set.
func (e *Engine) DefaultCandidates(ctx context.Context, limit int) []Candidate {
	e.algMu.RLock()
	fb := e.fallback
	e.algMu.RUnlock()
	if fb == nil {
		return nil
	}
	if limit <= 0 || limit > e.config.PerGeneratorLimit {
		limit = e.config.PerGeneratorLimit
	}
	r := e.runGenerator(ctx, fb, GenerateRequest{Limit: limit})
	if r.err != nil {
		e.logger.Warn().Err(r.err).Str("generator", r.name).Msg("fallback generator failed")
		return nil
	}
	return e.merge(r.candidates)
}

func (e *Engine) runGenerator(ctx context.Context, g Generator, req GenerateRequest) genResult {
	genCtx, cancel := context.WithTimeout(ctx, e.config.GeneratorTimeout)
	defer cancel()
	cands, err := g.Generate(genCtx, req)
	return genResult{name: g.Name(), candidates: cands, err: err}
}

// merge dedupes by id across lists (first wins), drops invalid candidates,
// and truncates to MaxCandidates.
func (e *Engine) merge(lists ...[]Candidate) []Candidate {
	seen := make(map[string]struct{})
	out := make([]Candidate, 0)
	for _, list := range lists {
		for i := range list {
			c := list[i]
			if err := validation.Validate(c); err != nil {
				e.rejected.Add(1)
				metrics.CandidatesRejected.WithLabelValues("content").Inc()
				e.logger.Debug().Err(err).Str("candidate", c.ID).Str("source", c.Source).Msg("candidate dropped")
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
			if len(out) >= e.config.MaxCandidates {
				return out
			}
		}
	}
	return out
}

// RankCandidates scores candidates through the ranking model, blends the
// score with freshness, popularity and personalization, and returns the top
// MaxRanked in descending order. A candidate whose model call fails is kept
// without the model signal. If every model call fails the result is the
// deduplicated input in its original order, flagged Degraded.
//
//nolint:gocritic // Bundle passed by value for immutability
func (e *Engine) RankCandidates(ctx context.Context, userID string, candidates []Candidate, user features.Bundle) RankResult {
	e.rankCalls.Add(1)
	cands := e.merge(candidates)
	if len(cands) == 0 {
		metrics.RecordRanking("empty")
		return RankResult{Candidates: cands}
	}

	e.hydrate(ctx, cands)

	modelScores, failed := e.scoreAll(ctx, userID, cands, user)
	if failed > 0 {
		e.candidateFailures.Add(int64(failed))
	}
	if failed == len(cands) {
		e.degraded.Add(1)
		metrics.RecordRanking("degraded")
		e.logger.Warn().Str("user_id", userID).Int("candidates", len(cands)).Msg("ranking degraded to unranked order")
		return RankResult{Candidates: truncate(cands, e.config.MaxRanked), Degraded: true, Failed: failed}
	}

	w := e.config.Weights.Normalize()
	now := e.now()
	for i := range cands {
		c := &cands[i]
		signals := map[string]float64{
			"freshness":       e.freshness(c, now),
			"popularity":      e.popularityOf(c.ID),
			"personalization": personalization(c, user),
		}
		score := w.Freshness*signals["freshness"] + w.Popularity*signals["popularity"] + w.Personalization*signals["personalization"]
		if ms, ok := modelScores[i]; ok {
			signals["model"] = ms
			score += w.Model * ms
		}
		c.Score = score
		c.Scores = signals
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ID < cands[j].ID
	})

	e.algMu.RLock()
	rerankers := e.rerankers
	e.algMu.RUnlock()
	for _, rr := range rerankers {
		cands = rr.Rerank(ctx, cands, e.config.MaxRanked)
	}

	outcome := "ranked"
	if failed > 0 {
		outcome = "partial"
	}
	metrics.RecordRanking(outcome)
	return RankResult{Candidates: truncate(cands, e.config.MaxRanked), Failed: failed}
}

// scoreAll calls the ranking model for every candidate with bounded
// concurrency. Concurrent calls are coalesced into batches by the
// orchestrator.
//
//nolint:gocritic // Bundle passed by value for immutability
func (e *Engine) scoreAll(ctx context.Context, userID string, cands []Candidate, user features.Bundle) (map[int]float64, int) {
	if e.scorer == nil {
		return nil, len(cands)
	}

	var (
		mu      sync.Mutex
		scores  = make(map[int]float64, len(cands))
		failed  int
		lastErr error
		wg      sync.WaitGroup
		sem     = make(chan struct{}, e.config.ScoreConcurrency)
	)
	for i := range cands {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			s, err := e.scorer.Score(ctx, e.config.RankingModel, rankingFeatures(&cands[idx], user))
			if err == nil && (math.IsNaN(s) || math.IsInf(s, 0)) {
				err = errors.New("non-finite score")
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				return
			}
			scores[idx] = s
		}(i)
	}
	wg.Wait()

	if failed > 0 {
		e.logger.Debug().Err(lastErr).Str("user_id", userID).Int("failed", failed).Msg("candidate scoring failed")
	}
	return scores, failed
}

// hydrate fills missing item features, embeddings and publish times.
func (e *Engine) hydrate(ctx context.Context, cands []Candidate) {
	var missing []string
	for i := range cands {
		c := &cands[i]
		if item, ok := e.catalog.Get(c.ID); ok {
			if c.PublishedAt.IsZero() {
				c.PublishedAt = item.PublishedAt
			}
			if len(c.Embedding) == 0 {
				c.Embedding = item.Embedding
			}
		}
		if c.Features == nil {
			missing = append(missing, c.ID)
		}
	}
	if e.items == nil || len(missing) == 0 {
		return
	}

	bundles := e.items.GetItemFeaturesBatch(ctx, missing)
	for i := range cands {
		c := &cands[i]
		b, ok := bundles[c.ID]
		if !ok {
			continue
		}
		if c.Features == nil {
			c.Features = b.Values
		}
		if len(c.Embedding) == 0 {
			c.Embedding = b.Embedding
		}
	}
}

func (e *Engine) freshness(c *Candidate, now time.Time) float64 {
	if c.PublishedAt.IsZero() {
		return 0
	}
	age := now.Sub(c.PublishedAt)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(e.config.FreshnessHalfLife))
}

func (e *Engine) popularityOf(id string) float64 {
	if e.popularity == nil {
		return 0
	}
	return clamp01(e.popularity.Popularity(id))
}

// personalization is the embedding affinity mapped to [0,1], falling back to
// the generator's retrieval score.
//
//nolint:gocritic // Bundle passed by value for immutability
func personalization(c *Candidate, user features.Bundle) float64 {
	if len(user.Embedding) > 0 && len(c.Embedding) > 0 {
		return (Cosine(user.Embedding, c.Embedding) + 1) / 2
	}
	return clamp01(c.RetrievalScore)
}

// rankingFeatures builds the model input: user values prefixed "u_", item
// values prefixed "i_", plus the retrieval score.
//
//nolint:gocritic // Bundle passed by value for immutability
func rankingFeatures(c *Candidate, user features.Bundle) serving.Features {
	f := make(serving.Features, len(user.Values)+len(c.Features)+1)
	for k, v := range user.Values {
		f["u_"+k] = v
	}
	for k, v := range c.Features {
		f["i_"+k] = v
	}
	f["retrieval_score"] = c.RetrievalScore
	return f
}

// LogInteraction feeds an interaction to every observing generator and to
// the popularity source.
func (e *Engine) LogInteraction(in Interaction) {
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now()
	}
	e.interactions.Add(1)

	e.algMu.RLock()
	observers := make([]Observer, 0, len(e.generators)+1)
	for _, g := range e.generators {
		if o, ok := g.(Observer); ok {
			observers = append(observers, o)
		}
	}
	if o, ok := e.fallback.(Observer); ok && !containsObserver(observers, o) {
		observers = append(observers, o)
	}
	e.algMu.RUnlock()

	for _, o := range observers {
		o.Observe(in)
	}
}

func containsObserver(list []Observer, o Observer) bool {
	for _, x := range list {
		if x == o {
			return true
		}
	}
	return false
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		GenerateCalls:     e.generateCalls.Load(),
		RankCalls:         e.rankCalls.Load(),
		DegradedRankings:  e.degraded.Load(),
		CandidateFailures: e.candidateFailures.Load(),
		Rejected:          e.rejected.Load(),
		Interactions:      e.interactions.Load(),
	}
}

// Cosine returns the cosine similarity of a and b over their common prefix,
// or 0 if either has zero norm.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func truncate(c []Candidate, n int) []Candidate {
	if len(c) > n {
		return c[:n]
	}
	return c
}
