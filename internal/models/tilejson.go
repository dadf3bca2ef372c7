// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package models

// TileJSON describes a tile source per the Mapbox TileJSON 2.2.0 spec.
// Only the fields Mosaicus serves are modeled.
type TileJSON struct {
	TileJSON string     `json:"tilejson"`
	Name     string     `json:"name,omitempty"`
	Version  string     `json:"version"`
	Scheme   string     `json:"scheme"`
	Tiles    []string   `json:"tiles"`
	MinZoom  int        `json:"minzoom"`
	MaxZoom  int        `json:"maxzoom"`
	Bounds   [4]float64 `json:"bounds"`
	Center   [3]float64 `json:"center"`
}

// NewTileJSON builds a TileJSON document with the center derived from
// bounds and minzoom, matching the behavior callers expect from tile
// server implementations.
func NewTileJSON(name string, tiles []string, bounds [4]float64, minzoom, maxzoom int) TileJSON {
	return TileJSON{
		TileJSON: "2.2.0",
		Name:     name,
		Version:  "1.0.0",
		Scheme:   "xyz",
		Tiles:    tiles,
		MinZoom:  minzoom,
		MaxZoom:  maxzoom,
		Bounds:   bounds,
		Center: [3]float64{
			(bounds[0] + bounds[2]) / 2,
			(bounds[1] + bounds[3]) / 2,
			float64(minzoom),
		},
	}
}
