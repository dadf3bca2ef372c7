// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package cache provides the rendered-tile cache with two backends: an
// in-memory LRU for single-node deployments and a BadgerDB store when tiles
// should survive restarts.
package cache

import (
	"fmt"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/metrics"
)

// TileStore caches encoded tile payloads with their content type.
type TileStore interface {
	Get(key string) (data []byte, contentType string, ok bool)
	Set(key string, data []byte, contentType string)
	Close() error
}

// New builds the configured tile store backend.
func New(cfg config.CacheConfig) (TileStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Capacity, cfg.TTL), nil
	case "badger":
		return NewBadgerStore(cfg.Path, cfg.TTL)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// TileKey derives the cache key for one rendered tile.
func TileKey(searchID string, z, x, y, scale int, format, asset, selection string) string {
	return fmt.Sprintf("tile:%s:%d/%d/%d@%d:%s:%s:%s", searchID, z, x, y, scale, format, asset, selection)
}

func recordLookup(hit bool) {
	if hit {
		metrics.TileCacheHits.Inc()
		return
	}
	metrics.TileCacheMisses.Inc()
}
