// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Metadata store query performance (DuckDB)
// - Asset-location scans and their stopping conditions
// - Tile compositing stages (db read, asset reads, merge, encode)
// - Cache efficiency
// - API endpoint latency and throughput

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Asset-location scan metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asset_scan_duration_seconds",
			Help:    "Duration of asset-location scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_scan_stops_total",
			Help: "Asset-location scans partitioned by which bound stopped them",
		},
		[]string{"reason"}, // "exhausted", "items_limit", "scan_limit", "time_limit", "covered"
	)

	AssetsLocated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assets_located_per_query",
			Help:    "Number of assets located per spatial query",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Tile compositing metrics
	TileRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_render_stage_duration_seconds",
			Help:    "Duration of tile render stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // "dbread", "dataread", "postprocess", "format"
	)

	TileAssetReadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_asset_read_errors_total",
			Help: "Per-asset read failures dropped from tile merges",
		},
	)

	TilesRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiles_rendered_total",
			Help: "Total number of composited tiles by output format",
		},
		[]string{"format"},
	)

	// Tile Cache Metrics
	TileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_cache_hits_total",
			Help: "Total number of tile cache hits",
		},
	)

	TileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_cache_misses_total",
			Help: "Total number of tile cache misses",
		},
	)

	// Registry metrics
	SearchRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_registrations_total",
			Help: "Search registrations partitioned by outcome",
		},
		[]string{"outcome"}, // "created", "existing"
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)
)

// ObserveDBQuery records the duration and outcome of one database query.
func ObserveDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// ObserveAPIRequest records one completed API request.
func ObserveAPIRequest(method, endpoint string, status int, start time.Time) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
