// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/bandit"
	"github.com/tomtom215/feedrank/internal/causal"
	"github.com/tomtom215/feedrank/internal/eventlog"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/recommend"
	"github.com/tomtom215/feedrank/internal/recommend/generators"
	"github.com/tomtom215/feedrank/internal/serving"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]features.Bundle
}

func (s *memStore) Get(_ context.Context, key string) (features.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		return features.Bundle{}, features.ErrNotFound
	}
	return b, nil
}

//nolint:gocritic // matches features.Store
func (s *memStore) Set(_ context.Context, key string, b features.Bundle, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = b
	return nil
}

type staticGenerator struct {
	ids []string
}

func (g *staticGenerator) Name() string { return "static" }

func (g *staticGenerator) Generate(context.Context, recommend.GenerateRequest) ([]recommend.Candidate, error) {
	out := make([]recommend.Candidate, len(g.ids))
	for i, id := range g.ids {
		out[i] = recommend.Candidate{ID: id, Source: g.Name(), RetrievalScore: 1 - float64(i)/10}
	}
	return out, nil
}

type constScorer struct {
	err error
}

func (c *constScorer) Score(context.Context, string, serving.Features) (float64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return 0.5, nil
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (r *sinkRecorder) Append(_ context.Context, batch []eventlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, batch...)
	return nil
}

func (r *sinkRecorder) count(t eventlog.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	store    *memStore
	trending *generators.Trending
	inv      *ads.Inventory
	bandit   *bandit.Engine
	sink     *sinkRecorder
	events   *eventlog.Logger
}

func newFixture(t *testing.T, scorer recommend.Scorer, causalCfg causal.Config) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	store := &memStore{m: make(map[string]features.Bundle)}
	fs := features.New(nil, store, features.Config{}, logger)

	engine, err := recommend.NewEngine(recommend.DefaultConfig(), scorer, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	trending := generators.NewTrending(generators.TrendingConfig{})
	engine.RegisterGenerator(&staticGenerator{ids: []string{"p1", "p2", "p3", "p4", "p5"}})
	engine.SetFallback(trending)

	pacing := ads.NewPacingController(ads.PacingConfig{}, logger)
	freq := ads.NewFrequencyManager(ads.FrequencyConfig{}, logger)
	auction := ads.NewAuctionEngine(ads.DefaultAuctionConfig(), pacing, freq, logger)
	b := bandit.NewEngine(bandit.Config{}, nil, logger)
	c := causal.NewEngine(causalCfg, logger)
	auction.SetCreativeSelector(b)
	auction.SetIncrementality(c)

	sink := &sinkRecorder{}
	events := eventlog.New(sink, eventlog.Config{}, logger)
	inv := ads.NewInventory()

	svc, err := New(DefaultConfig(), Deps{
		Features:  fs,
		Recommend: engine,
		Auction:   auction,
		Inventory: inv,
		Bandit:    b,
		Causal:    c,
		Events:    events,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, store: store, trending: trending, inv: inv, bandit: b, sink: sink, events: events}
}

func (f *fixture) warmUser(t *testing.T, userID string) {
	t.Helper()
	err := f.svc.deps.Features.PutUserFeatures(context.Background(), userID, features.Bundle{Values: map[string]float64{"age": 0.3}})
	if err != nil {
		t.Fatalf("PutUserFeatures: %v", err)
	}
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.events.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestGenerateFeed_ColdUserFallsBackToTrending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	ctx := context.Background()
	for _, id := range []string{"t1", "t1", "t2"} {
		f.svc.LogInteraction(ctx, "someone", id, recommend.InteractionClick)
	}

	feed, err := f.svc.GenerateFeed(ctx, "new-user", 10)
	if err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	if feed.Personalized {
		t.Error("cold user feed marked personalized")
	}
	if len(feed.Items) != 2 {
		t.Fatalf("items = %+v, want trending t1 and t2", feed.Items)
	}
	for _, it := range feed.Items {
		if it.Source != "trending" {
			t.Errorf("item %s source = %s, want trending", it.ID, it.Source)
		}
	}
	if f.svc.Stats().Fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", f.svc.Stats().Fallbacks)
	}
}

func TestGenerateFeed_PersonalizedAndLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	f.warmUser(t, "u1")

	feed, err := f.svc.GenerateFeed(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	if !feed.Personalized || feed.Degraded {
		t.Errorf("personalized=%v degraded=%v", feed.Personalized, feed.Degraded)
	}
	if len(feed.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(feed.Items))
	}
	if feed.Items[0].ID != "p1" {
		t.Errorf("top item = %s, want p1", feed.Items[0].ID)
	}

	f.flush(t)
	if got := f.sink.count(eventlog.TypeFeedServed); got != 1 {
		t.Errorf("feed_served events = %d, want 1", got)
	}
}

func TestGenerateFeed_DegradedRanking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{err: errors.New("model down")}, causal.Config{})
	f.warmUser(t, "u1")

	feed, err := f.svc.GenerateFeed(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	if !feed.Degraded {
		t.Error("Degraded = false with failing ranking model")
	}
	if len(feed.Items) != 5 || feed.Items[0].ID != "p1" {
		t.Errorf("degraded feed = %+v, want generator order", feed.Items)
	}
}

func TestGenerateFeed_InvalidUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	if _, err := f.svc.GenerateFeed(context.Background(), " ", 10); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestGenerateFeed_AdSlotAndReward(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	f.warmUser(t, "u1")
	if err := f.inv.Upsert(ads.AdCandidate{ID: "ad1", CampaignID: "camp", Bid: 2, Quality: 0.8, Creatives: []string{"red", "blue"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	ctx := context.Background()
	feed, err := f.svc.GenerateFeed(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	if len(feed.Items) != 6 {
		t.Fatalf("items = %d, want 5 content + 1 ad", len(feed.Items))
	}
	slot := feed.Items[DefaultConfig().AdPosition]
	if slot.Ad == nil || slot.Ad.AdID != "ad1" || slot.Source != "ad" {
		t.Fatalf("ad slot = %+v", slot)
	}
	if slot.Ad.Creative != "red" && slot.Ad.Creative != "blue" {
		t.Errorf("creative = %q", slot.Ad.Creative)
	}

	snap := f.bandit.Snapshot()
	if len(snap) != 1 || snap[0].Total != 1 || snap[0].Reward != 0 {
		t.Fatalf("bandit after serve = %+v", snap)
	}

	f.svc.LogInteraction(ctx, "u1", "ad1", recommend.InteractionClick)
	snap = f.bandit.Snapshot()
	if snap[0].Reward != 1 || snap[0].Arms[slot.Ad.Creative].Reward != 1 {
		t.Errorf("bandit after click = %+v", snap[0])
	}
	// Ad clicks do not feed content popularity.
	if f.trending.Score("ad1") != 0 {
		t.Error("ad click reached the trending generator")
	}

	f.flush(t)
	for _, typ := range []eventlog.Type{eventlog.TypeAdAuction, eventlog.TypeAdImpression, eventlog.TypeInteraction} {
		if f.sink.count(typ) != 1 {
			t.Errorf("%s events = %d, want 1", typ, f.sink.count(typ))
		}
	}
}

func TestGenerateFeed_GhostAdWithheld(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{GhostProbability: 1})
	f.warmUser(t, "u1")
	_ = f.inv.Upsert(ads.AdCandidate{ID: "ad1", CampaignID: "camp", Bid: 2, Quality: 0.8})

	feed, err := f.svc.GenerateFeed(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	for _, it := range feed.Items {
		if it.Ad != nil {
			t.Fatalf("ghost ad rendered: %+v", it)
		}
	}
	f.flush(t)
	if f.sink.count(eventlog.TypeGhostImpression) != 1 || f.sink.count(eventlog.TypeAdImpression) != 0 {
		t.Errorf("ghost=%d impression=%d", f.sink.count(eventlog.TypeGhostImpression), f.sink.count(eventlog.TypeAdImpression))
	}
}

func TestLogInteraction_Ignored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	f.svc.LogInteraction(context.Background(), "u", "i", recommend.InteractionType("stare"))
	f.svc.LogInteraction(context.Background(), "", "i", recommend.InteractionView)
	if s := f.svc.Stats(); s.Ignored != 2 || s.Interactions != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCleanup_ExpiresServedAds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &constScorer{}, causal.Config{})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	f.warmUser(t, "u1")
	_ = f.inv.Upsert(ads.AdCandidate{ID: "ad1", CampaignID: "camp", Bid: 2, Quality: 0.8})

	if _, err := f.svc.GenerateFeed(context.Background(), "u1", 5); err != nil {
		t.Fatalf("GenerateFeed: %v", err)
	}
	if _, ok := f.svc.lookup("u1", "ad1"); !ok {
		t.Fatal("served ad not remembered")
	}
	now = now.Add(2 * time.Hour)
	if removed := f.svc.Cleanup(); removed != 1 {
		t.Errorf("Cleanup removed %d, want 1", removed)
	}
}
