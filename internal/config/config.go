// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package config defines the Mosaicus configuration model and its koanf-based
// loading pipeline. Configuration is layered: built-in defaults, then an
// optional YAML file, then environment variables (highest priority).
//
// There is deliberately no package-level cached Config: cmd/server loads the
// configuration once and hands the struct to every component constructor.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Mosaicus server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Mosaic   MosaicConfig   `koanf:"mosaic"`
	Raster   RasterConfig   `koanf:"raster"`
	Cache    CacheConfig    `koanf:"cache"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings for the metadata store.
type DatabaseConfig struct {
	Path                   string `koanf:"path" validate:"required"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = use runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// MosaicConfig bounds the asset-location scan and the tile compositing
// pipeline.
type MosaicConfig struct {
	// Concurrency is the per-request worker budget for parallel asset
	// reads. 0 = use runtime.NumCPU().
	Concurrency int `koanf:"concurrency" validate:"gte=0"`

	// ScanLimit caps how many candidate rows one asset-location scan may
	// examine, matching or not.
	ScanLimit int `koanf:"scan_limit" validate:"gt=0"`

	// ItemsLimit caps how many matching items one scan may return.
	ItemsLimit int `koanf:"items_limit" validate:"gt=0"`

	// TimeLimit is the wall-clock budget for one scan, independent of the
	// caller's own deadline.
	TimeLimit time.Duration `koanf:"time_limit"`

	// SkipCovered suppresses items whose footprint is already fully covered
	// by higher-priority items collected earlier in the scan.
	SkipCovered bool `koanf:"skip_covered"`

	// MinZoom/MaxZoom/Bounds are the defaults advertised in TileJSON until
	// a request overrides them.
	MinZoom int        `koanf:"minzoom" validate:"gte=0,lte=30"`
	MaxZoom int        `koanf:"maxzoom" validate:"gte=0,lte=30"`
	Bounds  [4]float64 `koanf:"bounds"`

	// DefaultAsset names the item asset composited when a request does not
	// select one explicitly.
	DefaultAsset string `koanf:"default_asset"`
}

// RasterConfig tunes the raster asset reader.
type RasterConfig struct {
	// ReadTimeout bounds one asset read so a slow asset cannot stall a
	// whole tile.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// RequestsPerSecond throttles outbound asset reads. 0 = unlimited.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`

	// Circuit breaker settings for remote asset reads.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// CacheConfig configures the rendered-tile and asset-list caches.
type CacheConfig struct {
	// Backend selects the tile cache implementation: memory or badger.
	Backend string `koanf:"backend" validate:"oneof=memory badger"`

	// TTL is the default time-to-live for cached entries.
	TTL time.Duration `koanf:"ttl"`

	// Capacity is the maximum number of in-memory entries.
	Capacity int `koanf:"capacity" validate:"gt=0"`

	// Path is the on-disk location for the badger backend.
	Path string `koanf:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8083,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:                   "/data/mosaicus.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Mosaic: MosaicConfig{
			Concurrency:  0, // 0 = use runtime.NumCPU()
			ScanLimit:    10000,
			ItemsLimit:   100,
			TimeLimit:    5 * time.Second,
			SkipCovered:  true,
			MinZoom:      0,
			MaxZoom:      24,
			Bounds:       [4]float64{-180, -90, 180, 90},
			DefaultAsset: "cog",
		},
		Raster: RasterConfig{
			ReadTimeout:             10 * time.Second,
			RequestsPerSecond:       0,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:  "memory",
			TTL:      5 * time.Minute,
			Capacity: 10000,
			Path:     "/data/mosaicus-tiles",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.Mosaic.MinZoom > c.Mosaic.MaxZoom {
		return fmt.Errorf("mosaic.minzoom (%d) must not exceed mosaic.maxzoom (%d)",
			c.Mosaic.MinZoom, c.Mosaic.MaxZoom)
	}
	b := c.Mosaic.Bounds
	if b[0] >= b[2] || b[1] >= b[3] {
		return fmt.Errorf("mosaic.bounds %v is not a valid west,south,east,north box", b)
	}
	if c.Cache.Backend == "badger" && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required for the badger backend")
	}
	return nil
}
