// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package models

import "time"

// APIResponse is the standard envelope for all JSON endpoints.
// Image endpoints (tiles) bypass the envelope and return raw bytes.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability and performance tracking.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Code is a machine-readable error code (e.g., "SEARCH_NOT_FOUND",
// "VALIDATION_ERROR"); Message is human-readable; Details carries
// additional context such as field names or constraints.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Link is a typed hyperlink included in registration and listing responses.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// ListContext echoes pagination state back to the caller.
// Invariant: Matched >= Returned and Returned <= Limit.
type ListContext struct {
	Returned int `json:"returned"`
	Matched  int `json:"matched"`
	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
}
