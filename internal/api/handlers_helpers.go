// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/schema"

	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/models"
)

// queryDecoder decodes URL query values into parameter structs. Unknown keys
// are ignored so clients may carry extra parameters through to TileJSON
// templates.
var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.SetAliasTag("schema")
	return d
}()

// respondJSON writes the standard envelope with an ETag for client caching.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("Vary", "Accept-Encoding")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// generateETag creates a simple ETag from data using FNV-1a hash
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// sanitizeLogValue strips newlines so attacker-controlled strings cannot
// forge log records.
func sanitizeLogValue(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "\r", " ")
}

// decodeQuery fills a parameter struct from the request query string.
func decodeQuery(r *http.Request, dst interface{}) error {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("invalid query parameters: %w", err)
	}
	return nil
}

// parseLonLat splits a "{lon},{lat}" path segment.
func parseLonLat(segment string) (lon, lat float64, err error) {
	parts := strings.SplitN(segment, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected lon,lat but got %q", segment)
	}
	lon, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad longitude %q", parts[0])
	}
	lat, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad latitude %q", parts[1])
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("coordinates (%g, %g) out of range", lon, lat)
	}
	return lon, lat, nil
}

// preservedQuery re-encodes the request's query string minus the keys that
// control the current endpoint, so TileJSON tile templates carry the caller's
// rendering parameters through to the tile endpoint.
func preservedQuery(q url.Values, remove ...string) string {
	out := url.Values{}
	for k, vs := range q {
		out[k] = vs
	}
	for _, k := range remove {
		out.Del(k)
	}
	if len(out) == 0 {
		return ""
	}
	return "?" + out.Encode()
}

// requestBaseURL reconstructs the externally visible base URL, honouring
// proxy forwarding headers.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}
