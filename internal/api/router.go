// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package api is the admin and debug HTTP surface of the engine.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/v1/models
//	GET    /api/v1/alerts?limit=
//	GET    /api/v1/stats
//	GET    /api/v1/campaigns
//	GET    /api/v1/campaigns/{id}/pacing
//	PUT    /api/v1/campaigns/{id}
//	PUT    /api/v1/ads/{id}
//	DELETE /api/v1/ads/{id}
//	PUT    /api/v1/items/{id}
//	PUT    /api/v1/features/{class}/{id}
//	GET    /api/v1/feed/{userID}?limit=
//	POST   /api/v1/interactions
//	POST   /api/v1/conversions
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/feed"
	"github.com/tomtom215/feedrank/internal/recommend"
	"github.com/tomtom215/feedrank/internal/serving"
)

// ModelRegistry lists the serving models. *serving.Orchestrator implements it.
type ModelRegistry interface {
	Models() []serving.ModelStatus
}

// AlertSource returns recent model alerts. *serving.Monitor implements it.
type AlertSource interface {
	Alerts(limit int) []serving.Alert
}

// Campaigns manages budgets. *ads.PacingController implements it.
type Campaigns interface {
	RegisterCampaign(campaignID string, budget decimal.Decimal) error
	Snapshot(campaignID string) (ads.CampaignPacing, bool)
	Campaigns() []ads.CampaignPacing
}

// AdInventory holds the eligible ads. *ads.Inventory implements it.
type AdInventory interface {
	Upsert(ad ads.AdCandidate) error
	Remove(id string)
}

// ContentCatalog holds rankable organic items. *recommend.Catalog implements it.
type ContentCatalog interface {
	Upsert(item recommend.Item)
}

// FeatureWriter refreshes feature bundles. *features.FeatureStore implements it.
type FeatureWriter interface {
	PutUserFeatures(ctx context.Context, userID string, b features.Bundle) error
	PutItemFeatures(ctx context.Context, itemID string, b features.Bundle) error
	PutContextFeatures(ctx context.Context, contextID string, b features.Bundle) error
}

// FeedService assembles feeds and records user feedback. *feed.Service implements it.
type FeedService interface {
	GenerateFeed(ctx context.Context, userID string, limit int) (feed.Feed, error)
	LogInteraction(ctx context.Context, userID, itemID string, t recommend.InteractionType)
	RecordConversion(userID, campaignID string)
}

// Deps are the components behind the routes. Nil dependencies disable their routes.
type Deps struct {
	Models    ModelRegistry
	Alerts    AlertSource
	Campaigns Campaigns
	Inventory AdInventory
	Catalog   ContentCatalog
	Features  FeatureWriter
	Feed      FeedService

	// Stats returns named component statistics for /api/v1/stats.
	Stats func() map[string]any
}

// RouterConfig configures the middleware stack.
type RouterConfig struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// NewRouter builds the admin router.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRouter(cfg RouterConfig, deps Deps, logger zerolog.Logger) http.Handler {
	h := &handler{deps: deps, logger: logger.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging(h.logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitDisabled))
		r.Use(SecurityHeaders())
		r.Use(Metrics())

		if deps.Models != nil {
			r.Get("/models", h.ListModels)
		}
		if deps.Alerts != nil {
			r.Get("/alerts", h.ListAlerts)
		}
		if deps.Stats != nil {
			r.Get("/stats", h.Stats)
		}
		if deps.Campaigns != nil {
			r.Get("/campaigns", h.ListCampaigns)
			r.Get("/campaigns/{id}/pacing", h.CampaignPacing)
			r.Put("/campaigns/{id}", h.PutCampaign)
		}
		if deps.Inventory != nil {
			r.Put("/ads/{id}", h.PutAd)
			r.Delete("/ads/{id}", h.DeleteAd)
		}
		if deps.Catalog != nil {
			r.Put("/items/{id}", h.PutItem)
		}
		if deps.Features != nil {
			r.Put("/features/{class}/{id}", h.PutFeatures)
		}
		if deps.Feed != nil {
			r.Get("/feed/{userID}", h.GetFeed)
			r.Post("/interactions", h.PostInteraction)
			r.Post("/conversions", h.PostConversion)
		}
	})

	return r
}
