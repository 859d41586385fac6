// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/feed"
	"github.com/tomtom215/feedrank/internal/metrics"
	"github.com/tomtom215/feedrank/internal/recommend"
	"github.com/tomtom215/feedrank/internal/serving"
)

type fakeModels struct{ statuses []serving.ModelStatus }

func (f fakeModels) Models() []serving.ModelStatus { return f.statuses }

type fakeAlerts struct{ gotLimit int }

func (f *fakeAlerts) Alerts(limit int) []serving.Alert {
	f.gotLimit = limit
	return []serving.Alert{{Model: "ctr", Type: serving.AlertHighLatency}}
}

type fakeFeatures struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeFeatures) record(class, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, class+":"+id)
	return nil
}

//nolint:gocritic // mirrors the FeatureWriter signature
func (f *fakeFeatures) PutUserFeatures(_ context.Context, id string, _ features.Bundle) error {
	return f.record("user", id)
}

//nolint:gocritic // mirrors the FeatureWriter signature
func (f *fakeFeatures) PutItemFeatures(_ context.Context, id string, _ features.Bundle) error {
	return f.record("item", id)
}

//nolint:gocritic // mirrors the FeatureWriter signature
func (f *fakeFeatures) PutContextFeatures(_ context.Context, id string, _ features.Bundle) error {
	return f.record("context", id)
}

type fakeFeed struct {
	mu           sync.Mutex
	interactions []string
	conversions  []string
}

func (f *fakeFeed) GenerateFeed(_ context.Context, userID string, limit int) (feed.Feed, error) {
	if userID == "bad" {
		return feed.Feed{}, fmt.Errorf("%w: rejected", feed.ErrInvalidRequest)
	}
	return feed.Feed{UserID: userID, Items: make([]feed.Item, limit)}, nil
}

func (f *fakeFeed) LogInteraction(_ context.Context, userID, itemID string, t recommend.InteractionType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, userID+"|"+itemID+"|"+string(t))
}

func (f *fakeFeed) RecordConversion(userID, campaignID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversions = append(f.conversions, userID+"|"+campaignID)
}

type fixture struct {
	router    http.Handler
	pacing    *ads.PacingController
	inventory *ads.Inventory
	catalog   *recommend.Catalog
	features  *fakeFeatures
	feed      *fakeFeed
	alerts    *fakeAlerts
}

func newFixture(t *testing.T, cfg RouterConfig, models []serving.ModelStatus) *fixture {
	t.Helper()
	f := &fixture{
		pacing:    ads.NewPacingController(ads.DefaultPacingConfig(), zerolog.Nop()),
		inventory: ads.NewInventory(),
		catalog:   recommend.NewCatalog(),
		features:  &fakeFeatures{},
		feed:      &fakeFeed{},
		alerts:    &fakeAlerts{},
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitDisabled = true
	}
	f.router = NewRouter(cfg, Deps{
		Models:    fakeModels{statuses: models},
		Alerts:    f.alerts,
		Campaigns: f.pacing,
		Inventory: f.inventory,
		Catalog:   f.catalog,
		Features:  f.features,
		Feed:      f.feed,
		Stats:     func() map[string]any { return map[string]any{"events": 3} },
	}, zerolog.Nop())
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	if env.Status != "success" {
		t.Fatalf("status = %q, want success (body %s)", env.Status, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		models []serving.ModelStatus
		status string
		loaded int
	}{
		{"loaded model", []serving.ModelStatus{{Info: serving.Info{Name: "ctr"}, Loaded: true}}, "ok", 1},
		{"nothing loaded", []serving.ModelStatus{{Info: serving.Info{Name: "ctr"}}}, "degraded", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, RouterConfig{}, tt.models)
			rec := f.do(http.MethodGet, "/healthz", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d, want 200", rec.Code)
			}
			var h HealthResponse
			decodeData(t, rec, &h)
			if h.Status != tt.status || h.ModelsLoaded != tt.loaded {
				t.Errorf("health = %+v, want %s/%d", h, tt.status, tt.loaded)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Error("response should carry a request id")
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)
	rec := f.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "feedrank_") {
		t.Error("metrics output should contain feedrank metrics")
	}
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)

	if rec := f.do(http.MethodGet, "/api/v1/campaigns/c1/pacing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown campaign code = %d, want 404", rec.Code)
	}
	if rec := f.do(http.MethodPut, "/api/v1/campaigns/c1", `{"daily_budget":"0"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("zero budget code = %d, want 400", rec.Code)
	}

	rec := f.do(http.MethodPut, "/api/v1/campaigns/c1", `{"daily_budget":"250.50"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register code = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/v1/campaigns/c1/pacing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pacing code = %d", rec.Code)
	}
	var snap ads.CampaignPacing
	decodeData(t, rec, &snap)
	if snap.CampaignID != "c1" || snap.Budget.String() != "250.5" || snap.Status != ads.StatusNormal {
		t.Errorf("snapshot = %+v", snap)
	}

	var list []ads.CampaignPacing
	decodeData(t, f.do(http.MethodGet, "/api/v1/campaigns", ""), &list)
	if len(list) != 1 {
		t.Errorf("campaigns = %d, want 1", len(list))
	}
}

func TestAdsAndItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)

	if rec := f.do(http.MethodPut, "/api/v1/ads/a1", `{"campaign_id":"c1","bid":1,"quality":2}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid ad code = %d, want 400", rec.Code)
	}
	if rec := f.do(http.MethodPut, "/api/v1/ads/a1", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body code = %d, want 400", rec.Code)
	}
	if rec := f.do(http.MethodPut, "/api/v1/ads/a1", `{"campaign_id":"c1","bid":1.5,"quality":0.8}`); rec.Code != http.StatusOK {
		t.Fatalf("valid ad code = %d, body %s", rec.Code, rec.Body.String())
	}
	if ad, ok := f.inventory.Get("a1"); !ok || ad.Bid != 1.5 {
		t.Fatalf("inventory = %+v, %v", ad, ok)
	}
	if rec := f.do(http.MethodDelete, "/api/v1/ads/a1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete code = %d", rec.Code)
	}
	if f.inventory.Len() != 0 {
		t.Error("ad should be removed")
	}

	if rec := f.do(http.MethodPut, "/api/v1/items/p1", `{"tags":["news"]}`); rec.Code != http.StatusOK {
		t.Fatalf("item code = %d", rec.Code)
	}
	item, ok := f.catalog.Get("p1")
	if !ok || item.PublishedAt.IsZero() {
		t.Errorf("catalog item = %+v, %v; want published now", item, ok)
	}
}

func TestPutFeatures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)

	if rec := f.do(http.MethodPut, "/api/v1/features/device/x", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad class code = %d, want 400", rec.Code)
	}
	for _, class := range []string{"user", "item", "context"} {
		rec := f.do(http.MethodPut, "/api/v1/features/"+class+"/id1", `{"values":{"age":0.3}}`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s code = %d", class, rec.Code)
		}
	}
	want := []string{"user:id1", "item:id1", "context:id1"}
	if fmt.Sprint(f.features.puts) != fmt.Sprint(want) {
		t.Errorf("puts = %v, want %v", f.features.puts, want)
	}
}

func TestFeedAndFeedback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)

	rec := f.do(http.MethodGet, "/api/v1/feed/u1?limit=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("feed code = %d", rec.Code)
	}
	var got feed.Feed
	decodeData(t, rec, &got)
	if got.UserID != "u1" || len(got.Items) != 4 {
		t.Errorf("feed = %s/%d items, want u1/4", got.UserID, len(got.Items))
	}

	if rec := f.do(http.MethodGet, "/api/v1/feed/bad", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid feed code = %d, want 400", rec.Code)
	}

	if rec := f.do(http.MethodPost, "/api/v1/interactions", `{"user_id":"u1","item_id":"p1","type":"teleport"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type code = %d, want 400", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/interactions", `{"item_id":"p1","type":"click"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing user code = %d, want 400", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/interactions", `{"user_id":"u1","item_id":"p1","type":"click"}`); rec.Code != http.StatusAccepted {
		t.Errorf("interaction code = %d, want 202", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/conversions", `{"user_id":"u1","campaign_id":"c1"}`); rec.Code != http.StatusAccepted {
		t.Errorf("conversion code = %d, want 202", rec.Code)
	}

	if len(f.feed.interactions) != 1 || f.feed.interactions[0] != "u1|p1|click" {
		t.Errorf("interactions = %v", f.feed.interactions)
	}
	if len(f.feed.conversions) != 1 || f.feed.conversions[0] != "u1|c1" {
		t.Errorf("conversions = %v", f.feed.conversions)
	}
}

func TestAlertsLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{}, nil)
	f.do(http.MethodGet, "/api/v1/alerts?limit=5000", "")
	if f.alerts.gotLimit != 100 {
		t.Errorf("limit = %d, want clamped default 100", f.alerts.gotLimit)
	}
	f.do(http.MethodGet, "/api/v1/alerts?limit=7", "")
	if f.alerts.gotLimit != 7 {
		t.Errorf("limit = %d, want 7", f.alerts.gotLimit)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RouterConfig{RateLimitRequests: 1, RateLimitWindow: time.Minute}, nil)
	if rec := f.do(http.MethodGet, "/api/v1/models", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/models", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request code = %d, want 429", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz is not rate limited, got %d", rec.Code)
	}
}

// Not parallel: reads a shared Prometheus counter.
func TestRequestMetricsUseRoutePattern(t *testing.T) {
	f := newFixture(t, RouterConfig{}, nil)
	counter := metrics.APIRequestsTotal.WithLabelValues("GET", "/api/v1/campaigns/{id}/pacing", "404")
	before := testutil.ToFloat64(counter)

	f.do(http.MethodGet, "/api/v1/campaigns/zzz/pacing", "")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("counter delta = %v, want 1", got)
	}
}
