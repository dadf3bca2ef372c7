// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/filter"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/search"
	"github.com/tomtom215/mosaicus/internal/validation"
)

// maxRegisterBody caps the register request body.
const maxRegisterBody = 1 << 20 // 1 MiB

// listParams are the query parameters of the search listing endpoint.
type listParams struct {
	Limit  int    `schema:"limit" validate:"gte=0,lte=1000"`
	Offset int    `schema:"offset" validate:"gte=0"`
	SortBy string `schema:"sortby"`
}

// RegisterSearch registers (or re-resolves) a virtual mosaic from a search
// request body. The response carries the search id and the links a client
// needs next.
func (h *Handler) RegisterSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req filter.SearchRequest
	body := http.MaxBytesReader(w, r.Body, maxRegisterBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", err)
		return
	}

	s, created, err := h.registry.Register(r.Context(), &req)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	logging.Ctx(r.Context()).Info().
		Str("search_id", s.ID).
		Bool("created", created).
		Msg("Search registered")

	respondJSON(w, status, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"searchid": s.ID,
			"links":    h.searchLinks(r, s.ID),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// ListSearches pages through registered mosaics. sortby accepts lastused and
// usecount (column-backed) or any metadata key; a leading "-" flips to
// descending.
func (h *Handler) ListSearches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	params := listParams{Limit: 10}
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}
	if verr := validation.ValidateStruct(&params); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, verr)
		return
	}

	sortBy := params.SortBy
	desc := true
	if strings.HasPrefix(sortBy, "-") {
		sortBy = sortBy[1:]
	} else if sortBy != "" {
		desc = false
	}

	// Any remaining query keys become exact-match metadata filters.
	metadata := map[string]string{}
	for k, vs := range r.URL.Query() {
		switch k {
		case "limit", "offset", "sortby":
			continue
		}
		if len(vs) > 0 {
			metadata[k] = vs[0]
		}
	}

	results, matched, err := h.registry.List(r.Context(), database.ListOptions{
		Limit:    params.Limit,
		Offset:   params.Offset,
		SortBy:   sortBy,
		Desc:     desc,
		Metadata: metadata,
	})
	if err != nil {
		respondMappedError(w, err)
		return
	}

	infos := make([]*models.SearchInfo, 0, len(results))
	for _, s := range results {
		info, err := search.Info(s, h.searchLinks(r, s.ID))
		if err != nil {
			respondMappedError(w, err)
			return
		}
		infos = append(infos, info)
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"searches": infos,
			"links":    pageLinks(r, params.Limit, params.Offset, len(infos), int(matched)),
			"context": models.ListContext{
				Returned: len(infos),
				Matched:  int(matched),
				Limit:    params.Limit,
				Offset:   params.Offset,
			},
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// SearchInfo returns one registered search with lazily computed item counts.
func (h *Handler) SearchInfo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}
	if err := h.registry.EnsureCounts(r.Context(), s); err != nil {
		// Counts are best-effort; the info response is still useful.
		logging.Ctx(r.Context()).Warn().Err(err).Str("search_id", s.ID).Msg("Failed to compute search counts")
	}

	info, err := search.Info(s, h.searchLinks(r, s.ID))
	if err != nil {
		respondMappedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data:   info,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// pageLinks computes absolute next/prev links for a listing page. A link is
// present only when more rows exist in that direction.
func pageLinks(r *http.Request, limit, offset, returned, matched int) []models.Link {
	pageURL := func(offset int) string {
		q := r.URL.Query()
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		return requestBaseURL(r) + r.URL.Path + "?" + q.Encode()
	}

	links := []models.Link{}
	if offset+returned < matched {
		links = append(links, models.Link{
			Rel:  "next",
			Href: pageURL(offset + limit),
			Type: "application/json",
		})
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, models.Link{
			Rel:  "prev",
			Href: pageURL(prev),
			Type: "application/json",
		})
	}
	return links
}

// searchLinks builds the navigation links attached to search responses.
func (h *Handler) searchLinks(r *http.Request, id string) []models.Link {
	base := requestBaseURL(r)
	return []models.Link{
		{
			Rel:  "self",
			Href: fmt.Sprintf("%s/searches/%s/info", base, id),
			Type: "application/json",
		},
		{
			Rel:  "tilejson",
			Href: fmt.Sprintf("%s/searches/%s/tilejson.json", base, id),
			Type: "application/json",
		},
		{
			Rel:  "tiles",
			Href: fmt.Sprintf("%s/searches/%s/tiles/{z}/{x}/{y}", base, id),
			Type: "image/png",
		},
		{
			Rel:  "assets",
			Href: fmt.Sprintf("%s/searches/%s/tiles/{z}/{x}/{y}/assets", base, id),
			Type: "application/json",
		},
	}
}
