// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/feed"
	"github.com/tomtom215/feedrank/internal/logging"
	"github.com/tomtom215/feedrank/internal/recommend"
	"github.com/tomtom215/feedrank/internal/validation"
)

type handler struct {
	deps   Deps
	logger zerolog.Logger
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status       string `json:"status"` // ok or degraded
	ModelsLoaded int    `json:"models_loaded"`
}

// Health reports liveness. A registry with no loaded model is degraded but
// still answers 200, since ranking falls back to retrieval order.
func (h *handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.deps.Models != nil {
		for _, m := range h.deps.Models.Models() {
			if m.Loaded {
				resp.ModelsLoaded++
			}
		}
		if resp.ModelsLoaded == 0 {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Models.Models())
}

func (h *handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	respondJSON(w, http.StatusOK, h.deps.Alerts.Alerts(limit))
}

func (h *handler) Stats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Stats())
}

func (h *handler) ListCampaigns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Campaigns.Campaigns())
}

func (h *handler) CampaignPacing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.deps.Campaigns.Snapshot(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown campaign")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// CampaignRequest registers or replaces a campaign budget.
type CampaignRequest struct {
	DailyBudget decimal.Decimal `json:"daily_budget"`
}

func (h *handler) PutCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Campaigns.RegisterCampaign(id, req.DailyBudget); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BUDGET", err.Error())
		return
	}
	snap, _ := h.deps.Campaigns.Snapshot(id)
	respondJSON(w, http.StatusOK, snap)
}

func (h *handler) PutAd(w http.ResponseWriter, r *http.Request) {
	var ad ads.AdCandidate
	if !decodeBody(w, r, &ad) {
		return
	}
	ad.ID = chi.URLParam(r, "id")
	if err := h.deps.Inventory.Upsert(ad); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ad)
}

func (h *handler) DeleteAd(w http.ResponseWriter, r *http.Request) {
	h.deps.Inventory.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) PutItem(w http.ResponseWriter, r *http.Request) {
	var item recommend.Item
	if !decodeBody(w, r, &item) {
		return
	}
	item.ID = chi.URLParam(r, "id")
	if item.PublishedAt.IsZero() {
		item.PublishedAt = time.Now()
	}
	h.deps.Catalog.Upsert(item)
	respondJSON(w, http.StatusOK, item)
}

func (h *handler) PutFeatures(w http.ResponseWriter, r *http.Request) {
	class := features.Class(chi.URLParam(r, "class"))
	if !class.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_CLASS", "class must be user, item or context")
		return
	}
	var b features.Bundle
	if !decodeBody(w, r, &b) {
		return
	}
	id := chi.URLParam(r, "id")

	var err error
	switch class {
	case features.ClassUser:
		err = h.deps.Features.PutUserFeatures(r.Context(), id, b)
	case features.ClassItem:
		err = h.deps.Features.PutItemFeatures(r.Context(), id, b)
	default:
		err = h.deps.Features.PutContextFeatures(r.Context(), id, b)
	}
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("class", string(class)).Msg("feature write failed")
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "feature store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := logging.ContextWithUserID(r.Context(), userID)
	f, err := h.deps.Feed.GenerateFeed(ctx, userID, getIntParam(r, "limit", 0))
	switch {
	case errors.Is(err, feed.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case err != nil:
		logging.Ctx(ctx).Error().Err(err).Msg("feed generation failed")
		respondError(w, http.StatusInternalServerError, "FEED_FAILED", "feed generation failed")
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// InteractionRequest is the body of POST /api/v1/interactions.
type InteractionRequest struct {
	UserID string                    `json:"user_id" validate:"required"`
	ItemID string                    `json:"item_id" validate:"required"`
	Type   recommend.InteractionType `json:"type" validate:"required"`
}

func (h *handler) PostInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if !req.Type.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown interaction type")
		return
	}
	h.deps.Feed.LogInteraction(r.Context(), req.UserID, req.ItemID, req.Type)
	w.WriteHeader(http.StatusAccepted)
}

// ConversionRequest is the body of POST /api/v1/conversions.
type ConversionRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	CampaignID string `json:"campaign_id" validate:"required"`
}

func (h *handler) PostConversion(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	h.deps.Feed.RecordConversion(req.UserID, req.CampaignID)
	w.WriteHeader(http.StatusAccepted)
}
