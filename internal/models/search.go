// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package models

import "time"

// MosaicType is the metadata type value stamped on every registered search.
// It distinguishes virtual-mosaic rows from other stored-search rows that may
// share the searches table.
const MosaicType = "mosaic"

// Search is a registered virtual mosaic definition: a hashed, reusable
// filter expression standing in for a dynamic collection of catalog items.
type Search struct {
	// ID is the stable content hash of the canonicalized filter.
	ID string `json:"id"`

	// Filter is the canonical filter AST as stored (JSON text).
	Filter []byte `json:"-"`

	// Metadata is a free-form key/value map. The registry always merges in
	// type="mosaic" on registration.
	Metadata map[string]string `json:"metadata"`

	// LastUsed is updated by Touch on every tile/assets/point access.
	LastUsed time.Time `json:"lastused"`

	// UseCount only ever increases. Registration does not bump it.
	UseCount int64 `json:"usecount"`

	// EstimatedCount and TotalCount are approximate and exact matched-item
	// counts, computed lazily and cached on the row. Nil until computed.
	EstimatedCount *int64 `json:"estimated_count,omitempty"`
	TotalCount     *int64 `json:"total_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SearchInfo is the wire representation of a Search for JSON endpoints.
// The raw filter bytes are re-exposed as a decoded JSON document.
type SearchInfo struct {
	ID             string            `json:"id"`
	Filter         interface{}       `json:"search"`
	Metadata       map[string]string `json:"metadata"`
	LastUsed       time.Time         `json:"lastused"`
	UseCount       int64             `json:"usecount"`
	EstimatedCount *int64            `json:"estimated_count,omitempty"`
	TotalCount     *int64            `json:"total_count,omitempty"`
	Links          []Link            `json:"links,omitempty"`
}

// AssetRef is a transient reference to one catalog item's assets, produced
// per spatial query and never persisted.
type AssetRef struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Bounds     [4]float64       `json:"bbox"`
	Assets     map[string]Asset `json:"assets"`
}

// Asset is a single named resource attached to a catalog item.
type Asset struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Collection summarizes one collection present in the items table.
type Collection struct {
	ID        string     `json:"id"`
	ItemCount int64      `json:"item_count"`
	Extent    [4]float64 `json:"extent"`
}
