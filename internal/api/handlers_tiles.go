// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mosaicus/internal/cache"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/mosaic"
	"github.com/tomtom215/mosaicus/internal/validation"
)

// yToken matches the last tile path segment: row, optional @2x/@3x scale
// suffix, optional format extension (e.g. "42@2x.png").
var yTokenRe = regexp.MustCompile(`^(\d+)(?:@([1-3])x)?(?:\.(\w+))?$`)

const (
	baseTileSize       = 256
	maxTileZoom        = 30
	defaultJPEGQuality = 85

	mvtContentType = "application/vnd.mapbox-vector-tile"
)

// tileParams are the query parameters understood by the tile and
// point endpoints. Scan overrides of 0 mean "use the server default".
type tileParams struct {
	Assets         string  `schema:"assets"`
	PixelSelection string  `schema:"pixel_selection"`
	RescaleMin     float64 `schema:"rescale_min"`
	RescaleMax     float64 `schema:"rescale_max"`
	Gamma          float64 `schema:"gamma" validate:"gte=0,lte=10"`
	Quality        int     `schema:"quality" validate:"gte=0,lte=100"`
	ScanLimit      int     `schema:"scan_limit" validate:"gte=0"`
	ItemsLimit     int     `schema:"items_limit" validate:"gte=0"`
	TimeLimitMS    int     `schema:"time_limit_ms" validate:"gte=0"`
	SkipCovered    *bool   `schema:"skipcovered"`
	Reverse        bool    `schema:"reverse"`
}

// tileJSONParams are the extra query parameters of the TileJSON endpoint.
// Everything else on the query string is forwarded into the tile URL template.
type tileJSONParams struct {
	TileFormat string `schema:"tile_format"`
	TileScale  int    `schema:"tile_scale" validate:"gte=0,lte=3"`
	MinZoom    *int   `schema:"minzoom" validate:"omitempty,gte=0,lte=30"`
	MaxZoom    *int   `schema:"maxzoom" validate:"omitempty,gte=0,lte=30"`
}

func (p tileParams) locatorOptions() locator.Options {
	return locator.Options{
		ItemsLimit:  p.ItemsLimit,
		ScanLimit:   p.ScanLimit,
		TimeLimit:   time.Duration(p.TimeLimitMS) * time.Millisecond,
		SkipCovered: p.SkipCovered,
	}
}

// TileJSON renders the TileJSON document for a registered search. Query
// parameters that are not TileJSON controls are preserved verbatim in the
// tile URL template so clients carry their rendering options through.
func (h *Handler) TileJSON(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}

	params := tileJSONParams{TileScale: 1}
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}
	if verr := validation.ValidateStruct(&params); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, verr)
		return
	}

	minZoom, maxZoom := h.cfg.Mosaic.MinZoom, h.cfg.Mosaic.MaxZoom
	if params.MinZoom != nil {
		minZoom = *params.MinZoom
	}
	if params.MaxZoom != nil {
		maxZoom = *params.MaxZoom
	}
	if minZoom > maxZoom {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "minzoom must not exceed maxzoom", nil)
		return
	}

	yTemplate := "{y}"
	if params.TileScale > 1 {
		yTemplate += fmt.Sprintf("@%dx", params.TileScale)
	}
	if params.TileFormat != "" {
		if _, err := mosaic.ParseFormat(params.TileFormat); err != nil && params.TileFormat != "pbf" {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported tile_format", err)
			return
		}
		yTemplate += "." + params.TileFormat
	}

	tileURL := fmt.Sprintf("%s/searches/%s/tiles/{z}/{x}/%s%s",
		requestBaseURL(r), s.ID, yTemplate,
		preservedQuery(r.URL.Query(), "tile_format", "tile_scale", "minzoom", "maxzoom"))

	name := s.Metadata["name"]
	if name == "" {
		name = s.ID
	}

	tj := models.NewTileJSON(name, []string{tileURL}, h.cfg.Mosaic.Bounds, minZoom, maxZoom)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(tj); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode tilejson")
	}
}

// Tile renders one composited tile. The {y} segment carries optional scale
// and format suffixes; ".pbf" switches to the vector footprint tile built
// straight from the catalog instead of compositing raster assets.
func (h *Handler) Tile(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}

	z, x, y, scale, ext, ok := parseTileCoords(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid tile coordinates", nil)
		return
	}

	params := tileParams{Gamma: 1, Quality: defaultJPEGQuality}
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}
	if verr := validation.ValidateStruct(&params); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, verr)
		return
	}

	if ext == "pbf" || ext == "mvt" {
		h.vectorTile(w, r, s, z, x, y, params)
		return
	}

	format, err := mosaic.ParseFormat(ext)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported tile format", err)
		return
	}

	assetName := params.Assets
	if assetName == "" {
		assetName = h.cfg.Mosaic.DefaultAsset
	}
	selection, err := mosaic.ParseSelection(params.PixelSelection)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown pixel_selection", err)
		return
	}

	key := cache.TileKey(s.ID, z, x, y, scale, string(format), assetName, selection.String())
	if data, contentType, hit := h.tiles.Get(key); hit && cacheableTileRequest(params) {
		h.touchSearch(r, s.ID)
		serveTile(w, data, contentType, true, "", "")
		return
	}

	compiled, err := h.registry.Compile(s)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	refs, scan, err := h.locator.AssetsForTile(r.Context(), compiled, z, x, y, params.locatorOptions())
	if err != nil {
		respondMappedError(w, err)
		return
	}

	buf, render, err := h.compositor.RenderTile(r.Context(), refs, z, x, y, mosaic.TileOptions{
		AssetName: assetName,
		TileSize:  scale * baseTileSize,
		Selection: selection,
		Reverse:   params.Reverse,
	})
	if err != nil {
		respondMappedError(w, err)
		return
	}

	renderOpts := mosaic.RenderOptions{
		Rescale: [2]float64{params.RescaleMin, params.RescaleMax},
		Gamma:   params.Gamma,
		Quality: params.Quality,
	}
	data, used, err := mosaic.Encode(buf, format, renderOpts)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	h.touchSearch(r, s.ID)

	contentType := used.ContentType()
	if cacheableTileRequest(params) {
		h.tiles.Set(key, data, contentType)
	}

	timing := fmt.Sprintf("dbread;dur=%.1f, dataread;dur=%.1f, postprocess;dur=%.1f",
		durMS(scan.Elapsed), durMS(render.DataRead), durMS(render.Postprocess))
	serveTile(w, data, contentType, false, timing, assetsHeader(render.AssetsUsed))
}

// TileAssets lists the asset references that would feed one tile, in
// priority order, without reading any raster data.
func (h *Handler) TileAssets(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}
	z, x, y, _, _, ok := parseTileCoords(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid tile coordinates", nil)
		return
	}
	var params tileParams
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}

	compiled, err := h.registry.Compile(s)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	refs, scan, err := h.locator.AssetsForTile(r.Context(), compiled, z, x, y, params.locatorOptions())
	if err != nil && !errors.Is(err, locator.ErrNoAssetFound) {
		respondMappedError(w, err)
		return
	}

	h.touchSearch(r, s.ID)
	respondAssetList(w, refs, scan)
}

// PointAssets lists the asset references covering one lon/lat point.
func (h *Handler) PointAssets(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}
	lon, lat, err := parseLonLat(chi.URLParam(r, "lonlat"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}
	var params tileParams
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}

	compiled, err := h.registry.Compile(s)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	refs, scan, err := h.locator.AssetsForPoint(r.Context(), compiled, lon, lat, params.locatorOptions())
	if err != nil && !errors.Is(err, locator.ErrNoAssetFound) {
		respondMappedError(w, err)
		return
	}

	h.touchSearch(r, s.ID)
	respondAssetList(w, refs, scan)
}

// Point samples raster values at one lon/lat point across all covering
// assets, in priority order.
func (h *Handler) Point(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s, err := h.registry.Get(r.Context(), chi.URLParam(r, "searchID"))
	if err != nil {
		respondMappedError(w, err)
		return
	}
	lon, lat, err := parseLonLat(chi.URLParam(r, "lonlat"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}
	var params tileParams
	if err := decodeQuery(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}

	compiled, err := h.registry.Compile(s)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	refs, _, err := h.locator.AssetsForPoint(r.Context(), compiled, lon, lat, params.locatorOptions())
	if err != nil {
		respondMappedError(w, err)
		return
	}

	assetName := params.Assets
	if assetName == "" {
		assetName = h.cfg.Mosaic.DefaultAsset
	}
	values, err := h.compositor.RenderPoint(r.Context(), refs, lon, lat, assetName)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	h.touchSearch(r, s.ID)
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"coordinates": [2]float64{lon, lat},
			"values":      values,
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// vectorTile serves the item-footprint MVT for a tile, built by DuckDB
// spatial. Requires the spatial extension; without it the endpoint is
// honestly unimplemented rather than silently empty.
func (h *Handler) vectorTile(w http.ResponseWriter, r *http.Request, s *models.Search, z, x, y int, params tileParams) {
	if !h.db.IsSpatialAvailable() {
		respondError(w, http.StatusNotImplemented, "SPATIAL_UNAVAILABLE",
			"Vector tiles require the DuckDB spatial extension", nil)
		return
	}

	key := cache.TileKey(s.ID, z, x, y, 1, "pbf", "", "")
	if data, contentType, hit := h.tiles.Get(key); hit {
		h.touchSearch(r, s.ID)
		serveTile(w, data, contentType, true, "", "")
		return
	}

	compiled, err := h.registry.Compile(s)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	scanLimit := params.ScanLimit
	if scanLimit <= 0 {
		scanLimit = h.cfg.Mosaic.ScanLimit
	}

	start := time.Now()
	data, err := h.db.GenerateVectorTile(r.Context(), z, x, y, compiled.Where, compiled.Args, scanLimit)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	h.touchSearch(r, s.ID)
	h.tiles.Set(key, data, mvtContentType)
	timing := fmt.Sprintf("dbread;dur=%.1f", durMS(time.Since(start)))
	serveTile(w, data, mvtContentType, false, timing, "")
}

// touchSearch records one successful use of a search. Touch runs only after
// the request is known to succeed; failure to record is logged, never
// surfaced to the client.
func (h *Handler) touchSearch(r *http.Request, id string) {
	if err := h.registry.Touch(r.Context(), id); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("search_id", id).Msg("Failed to touch search")
	}
}

func respondAssetList(w http.ResponseWriter, refs []models.AssetRef, scan locator.ScanInfo) {
	if refs == nil {
		refs = []models.AssetRef{}
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"assets": refs,
			"scan": map[string]interface{}{
				"scanned": scan.Scanned,
				"matched": scan.Matched,
				"stop":    scan.Stop,
			},
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: scan.Elapsed.Milliseconds(),
		},
	})
}

// parseTileCoords extracts z/x/y, the render scale and the format extension
// from the route. Returns ok=false on any malformed segment.
func parseTileCoords(r *http.Request) (z, x, y, scale int, ext string, ok bool) {
	z, err := strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil || z < 0 || z > maxTileZoom {
		return 0, 0, 0, 0, "", false
	}
	x, err = strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil || x < 0 || x >= 1<<uint(z) {
		return 0, 0, 0, 0, "", false
	}

	m := yTokenRe.FindStringSubmatch(chi.URLParam(r, "y"))
	if m == nil {
		return 0, 0, 0, 0, "", false
	}
	y, err = strconv.Atoi(m[1])
	if err != nil || y < 0 || y >= 1<<uint(z) {
		return 0, 0, 0, 0, "", false
	}
	scale = 1
	if m[2] != "" {
		scale, _ = strconv.Atoi(m[2])
	}
	return z, x, y, scale, m[3], true
}

// cacheableTileRequest reports whether a tile response can be shared across
// requests. Renders with non-default post-processing are not cached because
// the cache key does not encode those knobs.
func cacheableTileRequest(p tileParams) bool {
	return p.RescaleMin == 0 && p.RescaleMax == 0 &&
		(p.Gamma == 0 || p.Gamma == 1) &&
		(p.Quality == 0 || p.Quality == defaultJPEGQuality) &&
		p.ScanLimit == 0 && p.ItemsLimit == 0 && p.TimeLimitMS == 0 &&
		p.SkipCovered == nil && !p.Reverse
}

func serveTile(w http.ResponseWriter, data []byte, contentType string, cached bool, timing, assets string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if timing != "" {
		w.Header().Set("Server-Timing", timing)
	}
	if assets != "" {
		w.Header().Set("X-Assets", assets)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func assetsHeader(ids []string) string {
	const maxHeaderAssets = 20
	if len(ids) > maxHeaderAssets {
		ids = ids[:maxHeaderAssets]
	}
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func durMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
