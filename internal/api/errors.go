// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/mosaicus/internal/filter"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/raster"
	"github.com/tomtom215/mosaicus/internal/search"
)

// respondMappedError translates domain errors onto HTTP statuses and error
// codes. Unrecognized errors become opaque 500s; their detail goes to the log
// only.
func respondMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrSearchNotFound):
		respondError(w, http.StatusNotFound, "SEARCH_NOT_FOUND", "No registered search with that id", err)
	case errors.Is(err, locator.ErrNoAssetFound):
		respondError(w, http.StatusNotFound, "NO_ASSETS", "No assets found for the requested location", err)
	case errors.Is(err, filter.ErrInvalidFilter):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
	case errors.Is(err, raster.ErrInvalidAssetName):
		respondError(w, http.StatusBadRequest, "INVALID_ASSET", err.Error(), err)
	case errors.Is(err, raster.ErrAssetUnreachable):
		respondError(w, http.StatusBadGateway, "ASSET_UNREACHABLE", "Upstream asset read failed", err)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", err)
	}
}
