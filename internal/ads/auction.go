// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/feedrank/internal/causal"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/metrics"
	"github.com/tomtom215/feedrank/internal/serving"
	"github.com/tomtom215/feedrank/internal/validation"
)

// AuctionConfig configures the auction.
type AuctionConfig struct {
	// ReservePrice is the minimum clearing price.
	ReservePrice float64

	// BidFloor drops candidates bidding below it before any filter runs.
	BidFloor float64

	QualityThreshold float64

	// MaxAds caps the ranked list reported with each auction.
	MaxAds int

	// Timeout is a soft latency target. Slower auctions are logged, not aborted.
	Timeout time.Duration

	// ChargeSecondPrice charges the clearing price instead of the winning bid.
	ChargeSecondPrice bool

	// CTRModel is the serving model used to predict click-through rate.
	CTRModel string

	// LatencyAlpha is the smoothing factor of the latency and fill rate averages.
	LatencyAlpha float64
}

// DefaultAuctionConfig returns the production auction parameters.
func DefaultAuctionConfig() AuctionConfig {
	return AuctionConfig{
		ReservePrice:     0.01,
		BidFloor:         0.005,
		QualityThreshold: 0.3,
		MaxAds:           10,
		Timeout:          50 * time.Millisecond,
		CTRModel:         "ctr",
		LatencyAlpha:     0.1,
	}
}

// Predictor scores ads with a served model.
type Predictor interface {
	PredictWithPriority(ctx context.Context, model string, features serving.Features, priority serving.Priority) (serving.Output, error)
}

// CreativeSelector picks which creative of the winning ad is served.
type CreativeSelector interface {
	ContextKey(features map[string]float64) string
	ShouldExploreContext(contextID string) bool
	SelectArm(contextID string, arms []string) string
	BestArm(contextID string, arms []string) string
}

// Incrementality assigns experiment arms and supplies lift multipliers.
type Incrementality interface {
	Assign(campaignID, userID string) causal.Group
	RecordExposure(campaignID, userID string)
	IncrementalityScore(campaignID string) float64
}

// RankedAd is one eligible ad in bid order.
type RankedAd struct {
	Ad             AdCandidate `json:"ad"`
	PredictedCTR   float64     `json:"predicted_ctr"`
	Incrementality float64     `json:"incrementality"`
	Pace           float64     `json:"pace"`
	EffectiveValue float64     `json:"effective_value"`
}

// AuctionResult is the outcome of one auction. A nil Winner means no ad.
type AuctionResult struct {
	AuctionID string       `json:"auction_id"`
	UserID    string       `json:"user_id"`
	Winner    *AdCandidate `json:"winner,omitempty"`

	// Creative and ContextID identify the bandit arm that was served.
	Creative  string `json:"creative,omitempty"`
	ContextID string `json:"context_id,omitempty"`
	Explored  bool   `json:"explored"`

	ClearingPrice decimal.Decimal `json:"clearing_price"`
	Charged       decimal.Decimal `json:"charged"`

	EffectiveValue float64 `json:"effective_value"`

	// Group is the experiment arm of the winner's campaign for this user.
	// Ghost and Holdout auctions have a winner that is not rendered.
	Group   causal.Group `json:"group,omitempty"`
	Ghost   bool         `json:"ghost"`
	Holdout bool         `json:"holdout"`

	Ranked     []RankedAd `json:"ranked,omitempty"`
	Candidates int        `json:"candidates"`
	Eligible   int        `json:"eligible"`

	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Err       error         `json:"-"`
}

// Filled reports whether an ad is rendered.
func (r *AuctionResult) Filled() bool {
	return r.Winner != nil && !r.Ghost && !r.Holdout
}

// AuctionStats are the running auction metrics.
type AuctionStats struct {
	Auctions     int64           `json:"auctions"`
	Filled       int64           `json:"filled"`
	NoFill       int64           `json:"no_fill"`
	Ghosts       int64           `json:"ghosts"`
	Holdouts     int64           `json:"holdouts"`
	Errors       int64           `json:"errors"`
	Revenue      decimal.Decimal `json:"revenue"`
	AvgLatencyMs float64         `json:"avg_latency_ms"`
	FillRate     float64         `json:"fill_rate"`
}

// AuctionEngine clears ad slots under pacing and frequency constraints.
type AuctionEngine struct {
	cfg       AuctionConfig
	pacing    *PacingController
	frequency *FrequencyManager
	logger    zerolog.Logger
	now       func() time.Time

	predictor Predictor
	selector  CreativeSelector
	lift      Incrementality

	auctions atomic.Int64
	filled   atomic.Int64
	noFill   atomic.Int64
	ghosts   atomic.Int64
	holdouts atomic.Int64
	errs     atomic.Int64

	statsMu      sync.Mutex
	samples      int64
	revenue      decimal.Decimal
	avgLatencyMs float64
	fillRate     float64
}

// NewAuctionEngine creates an auction engine. pacing and frequency may be
// nil to disable the corresponding filter.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewAuctionEngine(cfg AuctionConfig, pacing *PacingController, frequency *FrequencyManager, logger zerolog.Logger) *AuctionEngine {
	def := DefaultAuctionConfig()
	if cfg.MaxAds <= 0 {
		cfg.MaxAds = def.MaxAds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LatencyAlpha <= 0 || cfg.LatencyAlpha > 1 {
		cfg.LatencyAlpha = def.LatencyAlpha
	}
	return &AuctionEngine{
		cfg:       cfg,
		pacing:    pacing,
		frequency: frequency,
		logger:    logger.With().Str("component", "auction").Logger(),
		now:       time.Now,
		revenue:   decimal.Zero,
	}
}

// SetPredictor sets the CTR model source. Without one CTR falls back to quality.
func (a *AuctionEngine) SetPredictor(p Predictor) { a.predictor = p }

// SetCreativeSelector sets the bandit used for creative selection.
func (a *AuctionEngine) SetCreativeSelector(s CreativeSelector) { a.selector = s }

// SetIncrementality sets the causal engine.
func (a *AuctionEngine) SetIncrementality(l Incrementality) { a.lift = l }

// RunAuction runs one auction for userID. It never returns an error: any
// failure, including a panic, yields a result with no winner and Err set.
//
// Filters run in a fixed order: budget pacing, frequency caps, quality
// threshold. The remaining candidates are ordered by bid descending with ties
// broken by ID ascending, and the first one wins.
//
//nolint:gocritic // Bundle passed by value for immutability
func (a *AuctionEngine) RunAuction(ctx context.Context, userID string, user features.Bundle, candidates []AdCandidate) (res AuctionResult) {
	start := a.now()
	res = AuctionResult{
		AuctionID:     uuid.NewString(),
		UserID:        userID,
		Candidates:    len(candidates),
		ClearingPrice: decimal.Zero,
		Charged:       decimal.Zero,
		Timestamp:     start,
	}

	defer func() {
		if r := recover(); r != nil {
			res = AuctionResult{
				AuctionID:     res.AuctionID,
				UserID:        userID,
				Candidates:    len(candidates),
				ClearingPrice: decimal.Zero,
				Charged:       decimal.Zero,
				Timestamp:     start,
				Err:           fmt.Errorf("%w: %v", ErrAuction, r),
			}
		}
		res.Duration = a.now().Sub(start)
		a.finish(&res)
	}()

	eligible := a.sanitize(candidates)
	if a.pacing != nil {
		eligible = a.pacing.FilterByBudgetPacing(eligible)
	}
	if a.frequency != nil {
		eligible = a.frequency.FilterByFrequencyCaps(eligible, userID)
	}
	eligible = a.filterByQuality(eligible)
	res.Eligible = len(eligible)
	if len(eligible) == 0 {
		return res
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Bid != eligible[j].Bid {
			return eligible[i].Bid > eligible[j].Bid
		}
		return eligible[i].ID < eligible[j].ID
	})

	ranked := eligible
	if len(ranked) > a.cfg.MaxAds {
		ranked = ranked[:a.cfg.MaxAds]
	}
	res.Ranked = a.value(ctx, user, ranked)

	winner := eligible[0]
	res.Winner = &winner
	res.EffectiveValue = res.Ranked[0].EffectiveValue
	res.ClearingPrice = a.clearingPrice(eligible)
	res.Charged = winner.BidDecimal()
	if a.cfg.ChargeSecondPrice {
		res.Charged = res.ClearingPrice
	}

	a.selectCreative(&res, user)

	res.Group = causal.GroupTreatment
	if a.lift != nil {
		res.Group = a.lift.Assign(winner.CampaignID, userID)
		a.lift.RecordExposure(winner.CampaignID, userID)
	}
	switch res.Group {
	case causal.GroupGhost:
		res.Ghost = true
	case causal.GroupControl:
		res.Holdout = true
	default:
		if a.pacing != nil {
			a.pacing.RecordSpend(winner.CampaignID, res.Charged)
		}
		if a.frequency != nil {
			a.frequency.RecordImpression(userID, winner.CampaignID)
		}
	}
	return res
}

// sanitize drops candidates that fail validation or bid below the floor.
func (a *AuctionEngine) sanitize(candidates []AdCandidate) []AdCandidate {
	out := make([]AdCandidate, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		if c.CampaignID == "" {
			c.CampaignID = c.ID
		}
		if err := validation.Validate(&c); err != nil {
			metrics.CandidatesRejected.WithLabelValues("ad").Inc()
			a.logger.Debug().Err(err).Str("ad_id", c.ID).Msg("ad candidate dropped")
			continue
		}
		if c.Bid < a.cfg.BidFloor {
			continue
		}
		out = append(out, c)
	}
	metrics.RecordFiltered("validation", len(candidates)-len(out))
	return out
}

func (a *AuctionEngine) filterByQuality(candidates []AdCandidate) []AdCandidate {
	out := make([]AdCandidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].Quality >= a.cfg.QualityThreshold {
			out = append(out, candidates[i])
		}
	}
	metrics.RecordFiltered("quality", len(candidates)-len(out))
	return out
}

// clearingPrice is the next-highest bid, raised to the reserve and capped at
// the winning bid. sorted must be in auction order.
func (a *AuctionEngine) clearingPrice(sorted []AdCandidate) decimal.Decimal {
	winning := sorted[0].BidDecimal()
	price := decimal.NewFromFloat(a.cfg.ReservePrice)
	if len(sorted) > 1 {
		price = decimal.Max(price, sorted[1].BidDecimal())
	}
	return decimal.Min(price, winning)
}

// value computes the effective value of each ranked ad. CTR predictions run
// concurrently; a failed prediction falls back to the ad's quality score.
//
//nolint:gocritic // Bundle passed by value for immutability
func (a *AuctionEngine) value(ctx context.Context, user features.Bundle, ranked []AdCandidate) []RankedAd {
	out := make([]RankedAd, len(ranked))
	var wg sync.WaitGroup
	for i := range ranked {
		out[i] = RankedAd{Ad: ranked[i], PredictedCTR: ranked[i].Quality, Incrementality: 1, Pace: 1}
		if a.pacing != nil && a.pacing.GetPacingStatus(ranked[i].CampaignID) == StatusThrottled {
			out[i].Pace = a.pacing.Pace(ranked[i].CampaignID)
		}
		if a.lift != nil {
			out[i].Incrementality = a.lift.IncrementalityScore(ranked[i].CampaignID)
		}
		if a.predictor == nil || a.cfg.CTRModel == "" {
			continue
		}
		wg.Add(1)
		go func(r *RankedAd) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					a.logger.Error().Interface("panic", p).Str("ad_id", r.Ad.ID).Msg("ctr prediction panicked, using quality")
				}
			}()
			pred, err := a.predictor.PredictWithPriority(ctx, a.cfg.CTRModel, ctrFeatures(&r.Ad, user), serving.PriorityHigh)
			if err != nil {
				a.logger.Debug().Err(err).Str("ad_id", r.Ad.ID).Msg("ctr prediction failed, using quality")
				return
			}
			if s := pred.Score(); !math.IsNaN(s) && !math.IsInf(s, 0) {
				r.PredictedCTR = s
			}
		}(&out[i])
	}
	wg.Wait()

	for i := range out {
		out[i].EffectiveValue = out[i].Ad.Bid * out[i].Pace * out[i].Incrementality * out[i].PredictedCTR
	}
	return out
}

//nolint:gocritic // Bundle passed by value for immutability
func ctrFeatures(ad *AdCandidate, user features.Bundle) serving.Features {
	f := make(serving.Features, len(ad.Features)+len(user.Values)+2)
	for k, v := range user.Values {
		f["u_"+k] = v
	}
	for k, v := range ad.Features {
		f["a_"+k] = v
	}
	f["bid"] = ad.Bid
	f["quality"] = ad.Quality
	return f
}

//nolint:gocritic // Bundle passed by value for immutability
func (a *AuctionEngine) selectCreative(res *AuctionResult, user features.Bundle) {
	w := res.Winner
	if len(w.Creatives) == 0 {
		res.Creative = w.ID
		return
	}
	if a.selector == nil {
		res.Creative = w.Creatives[0]
		return
	}
	res.ContextID = w.CampaignID + "|" + a.selector.ContextKey(user.Values)
	res.Explored = a.selector.ShouldExploreContext(res.ContextID)
	if res.Explored {
		res.Creative = a.selector.SelectArm(res.ContextID, w.Creatives)
		return
	}
	res.Creative = a.selector.BestArm(res.ContextID, w.Creatives)
}

// finish updates running metrics for a completed auction.
func (a *AuctionEngine) finish(res *AuctionResult) {
	a.auctions.Add(1)

	outcome := "no_fill"
	revenue := 0.0
	switch {
	case res.Err != nil:
		outcome = "error"
		a.errs.Add(1)
		a.logger.Error().Err(res.Err).Str("auction_id", res.AuctionID).Str("user_id", res.UserID).Msg("auction failed, serving no ad")
	case res.Ghost:
		outcome = "ghost"
		a.ghosts.Add(1)
	case res.Holdout:
		outcome = "holdout"
		a.holdouts.Add(1)
	case res.Winner != nil:
		outcome = "filled"
		a.filled.Add(1)
		revenue = res.Charged.InexactFloat64()
	default:
		a.noFill.Add(1)
	}
	metrics.RecordAuction(outcome, res.Duration, revenue)

	fill := 0.0
	if res.Candidates > 0 {
		fill = float64(res.Eligible) / float64(res.Candidates)
	}
	latencyMs := float64(res.Duration) / float64(time.Millisecond)

	a.statsMu.Lock()
	if outcome == "filled" {
		a.revenue = a.revenue.Add(res.Charged)
	}
	a.samples++
	if a.samples == 1 {
		a.avgLatencyMs, a.fillRate = latencyMs, fill
	} else {
		alpha := a.cfg.LatencyAlpha
		a.avgLatencyMs = alpha*latencyMs + (1-alpha)*a.avgLatencyMs
		a.fillRate = alpha*fill + (1-alpha)*a.fillRate
	}
	a.statsMu.Unlock()

	if res.Duration > a.cfg.Timeout {
		a.logger.Warn().
			Str("auction_id", res.AuctionID).
			Dur("duration", res.Duration).
			Dur("budget", a.cfg.Timeout).
			Msg("auction exceeded latency budget")
	}
}

// Stats returns the running auction metrics.
func (a *AuctionEngine) Stats() AuctionStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return AuctionStats{
		Auctions:     a.auctions.Load(),
		Filled:       a.filled.Load(),
		NoFill:       a.noFill.Load(),
		Ghosts:       a.ghosts.Load(),
		Holdouts:     a.holdouts.Load(),
		Errors:       a.errs.Load(),
		Revenue:      a.revenue,
		AvgLatencyMs: a.avgLatencyMs,
		FillRate:     a.fillRate,
	}
}
