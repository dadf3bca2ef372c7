// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/mosaicus/internal/metrics"
)

// TileBounds represents the geographic bounds of a map tile
type TileBounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// CalculateTileBounds calculates the geographic bounds for a given tile coordinate
// Uses Web Mercator projection (EPSG:3857)
func CalculateTileBounds(z, x, y int) TileBounds {
	n := math.Pow(2, float64(z))

	minLon := float64(x)/n*360.0 - 180.0
	maxLon := float64(x+1)/n*360.0 - 180.0

	minLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y+1)/n)))
	maxLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))

	minLat := minLatRad * 180.0 / math.Pi
	maxLat := maxLatRad * 180.0 / math.Pi

	return TileBounds{
		MinX: minLon,
		MinY: minLat,
		MaxX: maxLon,
		MaxY: maxLat,
	}
}

// GenerateVectorTile generates a Mapbox Vector Tile (MVT) of item footprints
// for one registered search within a tile. Each feature is the item's bounding
// box with id and collection attributes, so map clients can render the mosaic
// coverage without fetching raster data.
//
// The search's WHERE clause and args come from the compiled filter; scanLimit
// caps the number of footprints per tile.
func (db *DB) GenerateVectorTile(ctx context.Context, z, x, y int, where string, filterArgs []interface{}, scanLimit int) ([]byte, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if !db.spatialAvailable {
		return nil, fmt.Errorf("spatial extension required for vector tile generation")
	}

	bounds := CalculateTileBounds(z, x, y)

	if where == "" {
		where = "TRUE"
	}

	query := fmt.Sprintf(`
		WITH tile_data AS (
			SELECT id, collection, min_lon, min_lat, max_lon, max_lat
			FROM items
			WHERE (%s)
				AND min_lon <= ? AND max_lon >= ?
				AND min_lat <= ? AND max_lat >= ?
			LIMIT %d
		)
		SELECT ST_AsMVT(footprints.*, 'items', 4096, 'geom') as mvt
		FROM (
			SELECT
				ST_AsMVTGeom(
					ST_MakeEnvelope(min_lon, min_lat, max_lon, max_lat),
					ST_MakeEnvelope(?, ?, ?, ?, 4326),
					4096,
					0,
					false
				) as geom,
				id,
				collection
			FROM tile_data
		) as footprints
		WHERE geom IS NOT NULL
	`, where, scanLimit)

	args := make([]interface{}, 0, len(filterArgs)+8)
	args = append(args, filterArgs...)
	// Intersection test: item bbox overlaps tile bbox
	args = append(args, bounds.MaxX, bounds.MinX, bounds.MaxY, bounds.MinY)
	// Clip envelope for MVT geometry generation
	args = append(args, bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)

	start := time.Now()
	var mvtData []byte
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&mvtData)
	metrics.ObserveDBQuery("mvt", "items", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to generate vector tile: %w", err)
	}

	return mvtData, nil
}
