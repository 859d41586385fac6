// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package feed is the facade consumed by the surrounding application.
//
// GenerateFeed assembles features, generates and ranks content, clears one ad
// slot and logs the decision. It always returns an ordered feed for a valid
// user id: missing features fall back to trending content, ranking failure
// falls back to unranked order, and auction failure leaves the slot empty.
//
// LogInteraction feeds engagement back into the generators, rewards the
// bandit arm of a clicked ad and records conversions for causal measurement.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/bandit"
	"github.com/tomtom215/feedrank/internal/causal"
	"github.com/tomtom215/feedrank/internal/eventlog"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/recommend"
)

// ErrInvalidRequest is returned for a request without a user id.
var ErrInvalidRequest = errors.New("invalid feed request")

// Config configures the facade.
type Config struct {
	DefaultLimit int
	MaxLimit     int

	// AdPosition is the zero-based slot the ad is inserted at. A negative
	// value disables ads.
	AdPosition int

	// ContextID selects the context feature bundle used for every request.
	ContextID string

	// ServedAdTTL is how long a served ad stays attributable to clicks and
	// conversions.
	ServedAdTTL time.Duration
}

// DefaultConfig returns production facade settings.
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 20,
		MaxLimit:     100,
		AdPosition:   3,
		ContextID:    "global",
		ServedAdTTL:  time.Hour,
	}
}

// Item is one feed entry. Exactly one of Content and Ad is set.
type Item struct {
	ID      string               `json:"id"`
	Score   float64              `json:"score,omitempty"`
	Source  string               `json:"source,omitempty"`
	Content *recommend.Candidate `json:"-"`
	Ad      *AdPlacement         `json:"ad,omitempty"`
}

// AdPlacement describes a rendered ad.
type AdPlacement struct {
	AuctionID  string `json:"auction_id"`
	AdID       string `json:"ad_id"`
	CampaignID string `json:"campaign_id"`
	Creative   string `json:"creative"`
	Charged    string `json:"charged"`
}

// Feed is the response of GenerateFeed.
type Feed struct {
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Items        []Item    `json:"items"`
	Personalized bool      `json:"personalized"`
	Degraded     bool      `json:"degraded"`
	AuctionID    string    `json:"auction_id,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Deps are the engine components behind the facade. Features and Recommend
// are required; the rest may be nil to disable their stage.
type Deps struct {
	Features  *features.FeatureStore
	Recommend *recommend.Engine
	Auction   *ads.AuctionEngine
	Inventory *ads.Inventory
	Bandit    *bandit.Engine
	Causal    *causal.Engine
	Events    *eventlog.Logger
}

type servedAd struct {
	campaignID string
	contextID  string
	creative   string
	group      causal.Group
	expires    time.Time
}

// Stats are the facade counters.
type Stats struct {
	Feeds        int64 `json:"feeds"`
	Fallbacks    int64 `json:"fallbacks"`
	Degraded     int64 `json:"degraded"`
	AdsServed    int64 `json:"ads_served"`
	Interactions int64 `json:"interactions"`
	Ignored      int64 `json:"ignored"`
}

// Service implements the facade. Safe for concurrent use.
type Service struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	served map[string]servedAd // user|ad

	feeds        atomic.Int64
	fallbacks    atomic.Int64
	degraded     atomic.Int64
	adsServed    atomic.Int64
	interactions atomic.Int64
	ignored      atomic.Int64
}

// New creates the facade.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Features == nil || deps.Recommend == nil {
		return nil, errors.New("feed: features and recommend engine are required")
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.ContextID == "" {
		cfg.ContextID = def.ContextID
	}
	if cfg.ServedAdTTL <= 0 {
		cfg.ServedAdTTL = def.ServedAdTTL
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "feed").Logger(),
		now:    time.Now,
		served: make(map[string]servedAd),
	}, nil
}

// GenerateFeed returns up to limit ranked items for userID, with at most one ad.
func (s *Service) GenerateFeed(ctx context.Context, userID string, limit int) (Feed, error) {
	if strings.TrimSpace(userID) == "" {
		return Feed{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	s.feeds.Add(1)

	feed := Feed{
		RequestID:   uuid.NewString(),
		UserID:      userID,
		GeneratedAt: s.now(),
	}
	log := s.logger.With().Str("request_id", feed.RequestID).Str("user_id", userID).Logger()

	user, err := s.deps.Features.GetUserFeatures(ctx, userID)
	if err != nil && !errors.Is(err, features.ErrNotFound) {
		log.Debug().Err(err).Msg("user features unavailable")
	}
	ctxFeatures, _ := s.deps.Features.GetContextFeatures(ctx, s.cfg.ContextID) //nolint:errcheck // empty bundle on miss

	var candidates []recommend.Candidate
	if !user.Empty() {
		feed.Personalized = true
		candidates = s.deps.Recommend.GenerateCandidates(ctx, userID, user, ctxFeatures)
	}
	if len(candidates) == 0 {
		s.fallbacks.Add(1)
		feed.Personalized = false
		candidates = s.deps.Recommend.DefaultCandidates(ctx, limit)
	}

	ranked := s.deps.Recommend.RankCandidates(ctx, userID, candidates, user)
	if ranked.Degraded {
		s.degraded.Add(1)
		feed.Degraded = true
	}
	content := ranked.Candidates
	if len(content) > limit {
		content = content[:limit]
	}
	feed.Items = make([]Item, 0, len(content)+1)
	for i := range content {
		c := content[i]
		feed.Items = append(feed.Items, Item{ID: c.ID, Score: c.Score, Source: c.Source, Content: &c})
	}

	if placement := s.clearAdSlot(ctx, userID, user, &feed); placement != nil {
		pos := s.cfg.AdPosition
		if pos > len(feed.Items) {
			pos = len(feed.Items)
		}
		feed.Items = append(feed.Items, Item{})
		copy(feed.Items[pos+1:], feed.Items[pos:])
		feed.Items[pos] = Item{ID: placement.AdID, Source: "ad", Ad: placement}
	}

	s.logEvent(eventlog.TypeFeedServed, userID, map[string]any{
		"request_id":   feed.RequestID,
		"items":        itemIDs(feed.Items),
		"personalized": feed.Personalized,
		"degraded":     feed.Degraded,
		"auction_id":   feed.AuctionID,
	})
	return feed, nil
}

// clearAdSlot runs the auction and records the outcome. It returns the
// placement to render, or nil.
//
//nolint:gocritic // Bundle passed by value for immutability
func (s *Service) clearAdSlot(ctx context.Context, userID string, user features.Bundle, feed *Feed) *AdPlacement {
	if s.cfg.AdPosition < 0 || s.deps.Auction == nil || s.deps.Inventory == nil || s.deps.Inventory.Len() == 0 {
		return nil
	}
	res := s.deps.Auction.RunAuction(ctx, userID, user, s.deps.Inventory.Candidates())
	feed.AuctionID = res.AuctionID

	payload := map[string]any{
		"auction_id": res.AuctionID,
		"candidates": res.Candidates,
		"eligible":   res.Eligible,
		"duration":   res.Duration.Seconds(),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	if res.Winner != nil {
		payload["winner"] = res.Winner.ID
		payload["campaign_id"] = res.Winner.CampaignID
		payload["bid"] = res.Winner.Bid
		payload["clearing_price"] = res.ClearingPrice.String()
		payload["charged"] = res.Charged.String()
		payload["effective_value"] = res.EffectiveValue
		payload["group"] = string(res.Group)
		payload["explored"] = res.Explored
	}
	s.logEvent(eventlog.TypeAdAuction, userID, payload)

	if res.Winner == nil {
		return nil
	}
	s.remember(userID, &res)

	if res.Ghost {
		s.logEvent(eventlog.TypeGhostImpression, userID, map[string]any{
			"auction_id":  res.AuctionID,
			"ad_id":       res.Winner.ID,
			"campaign_id": res.Winner.CampaignID,
		})
		return nil
	}
	if res.Holdout {
		return nil
	}

	if s.deps.Bandit != nil && res.ContextID != "" {
		s.deps.Bandit.RecordReward(ctx, res.ContextID, res.Creative, 0)
	}
	s.adsServed.Add(1)
	placement := &AdPlacement{
		AuctionID:  res.AuctionID,
		AdID:       res.Winner.ID,
		CampaignID: res.Winner.CampaignID,
		Creative:   res.Creative,
		Charged:    res.Charged.String(),
	}
	s.logEvent(eventlog.TypeAdImpression, userID, map[string]any{
		"auction_id":  res.AuctionID,
		"ad_id":       placement.AdID,
		"campaign_id": placement.CampaignID,
		"creative":    placement.Creative,
		"charged":     placement.Charged,
	})
	return placement
}

func (s *Service) remember(userID string, res *ads.AuctionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.served[userID+"|"+res.Winner.ID] = servedAd{
		campaignID: res.Winner.CampaignID,
		contextID:  res.ContextID,
		creative:   res.Creative,
		group:      res.Group,
		expires:    s.now().Add(s.cfg.ServedAdTTL),
	}
}

func (s *Service) lookup(userID, itemID string) (servedAd, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.served[userID+"|"+itemID]
	if !ok || !s.now().Before(ad.expires) {
		return servedAd{}, false
	}
	return ad, true
}

// LogInteraction records an engagement. It never blocks on external I/O and
// never fails; invalid input is counted and ignored.
func (s *Service) LogInteraction(ctx context.Context, userID, itemID string, t recommend.InteractionType) {
	if userID == "" || itemID == "" || !t.Valid() {
		s.ignored.Add(1)
		s.logger.Debug().Str("user_id", userID).Str("item_id", itemID).Str("type", string(t)).Msg("interaction ignored")
		return
	}
	s.interactions.Add(1)

	ad, isAd := s.lookup(userID, itemID)
	if !isAd {
		s.deps.Recommend.LogInteraction(recommend.Interaction{UserID: userID, ItemID: itemID, Type: t, Timestamp: s.now()})
	}

	payload := map[string]any{"item_id": itemID, "interaction": string(t)}
	if isAd {
		payload["campaign_id"] = ad.campaignID
		payload["creative"] = ad.creative
		s.rewardAd(ad, userID, t)
	}
	s.logEvent(eventlog.TypeInteraction, userID, payload)
}

func (s *Service) rewardAd(ad servedAd, userID string, t recommend.InteractionType) {
	switch t {
	case recommend.InteractionClick, recommend.InteractionConvert:
	default:
		return
	}
	if s.deps.Bandit != nil && ad.contextID != "" {
		s.deps.Bandit.AttributeReward(ad.contextID, ad.creative, 1)
	}
	if t == recommend.InteractionConvert && s.deps.Causal != nil {
		s.deps.Causal.RecordOutcome(ad.campaignID, userID, true)
	}
}

// RecordConversion reports a conversion for a campaign that happened outside
// the feed, such as on the advertiser's site. Users held out of the
// campaign's experiment convert through here.
func (s *Service) RecordConversion(userID, campaignID string) {
	if s.deps.Causal == nil || userID == "" || campaignID == "" {
		return
	}
	s.deps.Causal.RecordOutcome(campaignID, userID, true)
	s.logEvent(eventlog.TypeInteraction, userID, map[string]any{
		"campaign_id": campaignID,
		"interaction": string(recommend.InteractionConvert),
	})
}

// Cleanup forgets served ads past their attribution window and returns how
// many were removed.
func (s *Service) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, ad := range s.served {
		if !now.Before(ad.expires) {
			delete(s.served, k)
			removed++
		}
	}
	return removed
}

// Stats returns the facade counters.
func (s *Service) Stats() Stats {
	return Stats{
		Feeds:        s.feeds.Load(),
		Fallbacks:    s.fallbacks.Load(),
		Degraded:     s.degraded.Load(),
		AdsServed:    s.adsServed.Load(),
		Interactions: s.interactions.Load(),
		Ignored:      s.ignored.Load(),
	}
}

func (s *Service) logEvent(t eventlog.Type, userID string, payload map[string]any) {
	if s.deps.Events != nil {
		s.deps.Events.Log(t, userID, payload)
	}
}

func itemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	return ids
}
