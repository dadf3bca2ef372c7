// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package api provides the HTTP surface of Mosaicus: search registration and
// listing, TileJSON, tile compositing, asset lookup and point queries.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/mosaicus/internal/cache"
	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/mosaic"
	"github.com/tomtom215/mosaicus/internal/search"
)

// Handler holds the wired components behind the HTTP surface.
type Handler struct {
	cfg        *config.Config
	db         *database.DB
	registry   *search.Registry
	locator    *locator.Locator
	compositor *mosaic.Compositor
	tiles      cache.TileStore
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, db *database.DB, registry *search.Registry, loc *locator.Locator, compositor *mosaic.Compositor, tiles cache.TileStore) *Handler {
	return &Handler{
		cfg:        cfg,
		db:         db,
		registry:   registry,
		locator:    loc,
		compositor: compositor,
		tiles:      tiles,
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "ok",
		Data:     map[string]string{"state": "alive"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady reports readiness: the metadata store must answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Database not available", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "ok",
		Data:     map[string]string{"state": "ready"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Collections lists the collections present in the metadata store.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cols, err := h.db.Collections(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list collections", err)
		return
	}
	if cols == nil {
		cols = []models.Collection{}
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data:   cols,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}
