// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package locator finds the catalog items whose assets intersect a tile or
// point, under three independent budgets: a matched-items limit, a scanned-
// rows limit and a wall-clock limit. Whichever trips first ends the scan;
// partial results are returned, never an error.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/search"
)

// ErrNoAssetFound is returned by callers that require at least one asset.
var ErrNoAssetFound = errors.New("no assets found")

// Stop reasons reported in ScanInfo and the scan-stop metric.
const (
	StopExhausted  = "exhausted"
	StopItemsLimit = "items_limit"
	StopScanLimit  = "scan_limit"
	StopTimeLimit  = "time_limit"
	StopCovered    = "covered"
)

// ItemStore is the scan surface the locator needs. *database.DB satisfies it.
type ItemStore interface {
	ScanItems(ctx context.Context, where string, args []interface{}, orderBy string, scanLimit int, fn func(database.ItemRow) bool) error
}

// Options override the configured scan budgets per request. Zero values fall
// back to configuration; SkipCovered nil likewise.
//
// SkipCovered stops the scan once a single footprint contains the whole
// query window. It does not track the union of collected footprints, so a
// window covered only by several partial items keeps scanning.
type Options struct {
	ItemsLimit  int
	ScanLimit   int
	TimeLimit   time.Duration
	SkipCovered *bool
}

// ScanInfo describes how an asset-location scan ended. Timings feed the
// Server-Timing response header.
type ScanInfo struct {
	Scanned int
	Matched int
	Stop    string
	Elapsed time.Duration
}

// Locator locates assets for registered searches.
type Locator struct {
	store ItemStore
	cfg   config.MosaicConfig
}

// New creates a Locator with the given scan budgets.
func New(store ItemStore, cfg config.MosaicConfig) *Locator {
	return &Locator{store: store, cfg: cfg}
}

// AssetsForTile returns the assets intersecting a Web Mercator tile, in the
// search's sort order.
func (l *Locator) AssetsForTile(ctx context.Context, compiled *search.Compiled, z, x, y int, opts Options) ([]models.AssetRef, ScanInfo, error) {
	b := database.CalculateTileBounds(z, x, y)
	return l.find(ctx, compiled, [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}, opts)
}

// AssetsForPoint returns the assets whose footprints contain a lon/lat point.
func (l *Locator) AssetsForPoint(ctx context.Context, compiled *search.Compiled, lon, lat float64, opts Options) ([]models.AssetRef, ScanInfo, error) {
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return nil, ScanInfo{}, fmt.Errorf("point (%g, %g) outside valid range", lon, lat)
	}
	return l.find(ctx, compiled, [4]float64{lon, lat, lon, lat}, opts)
}

// AssetsForBounds returns the assets intersecting an arbitrary lon/lat box.
func (l *Locator) AssetsForBounds(ctx context.Context, compiled *search.Compiled, bounds [4]float64, opts Options) ([]models.AssetRef, ScanInfo, error) {
	return l.find(ctx, compiled, bounds, opts)
}

func (l *Locator) find(ctx context.Context, compiled *search.Compiled, bounds [4]float64, opts Options) ([]models.AssetRef, ScanInfo, error) {
	itemsLimit := opts.ItemsLimit
	if itemsLimit <= 0 {
		itemsLimit = l.cfg.ItemsLimit
	}
	scanLimit := opts.ScanLimit
	if scanLimit <= 0 {
		scanLimit = l.cfg.ScanLimit
	}
	timeLimit := opts.TimeLimit
	if timeLimit <= 0 {
		timeLimit = l.cfg.TimeLimit
	}
	skipCovered := l.cfg.SkipCovered
	if opts.SkipCovered != nil {
		skipCovered = *opts.SkipCovered
	}

	where, args := withBoundsFilter(compiled.Where, compiled.Args, bounds)

	var (
		refs    []models.AssetRef
		info    ScanInfo
		scanErr error
	)
	start := time.Now()
	deadline := start.Add(timeLimit)
	info.Stop = StopExhausted

	err := l.store.ScanItems(ctx, where, args, compiled.OrderBy, scanLimit, func(row database.ItemRow) bool {
		info.Scanned++

		ref, err := row.AssetRef()
		if err != nil {
			// A malformed row poisons the scan but not the mosaic: log and
			// keep going.
			logging.Warn().Err(err).Str("item", row.ID).Msg("Skipping undecodable item")
			return l.continueScan(&info, scanLimit, deadline)
		}

		refs = append(refs, ref)
		info.Matched++

		if info.Matched >= itemsLimit {
			info.Stop = StopItemsLimit
			return false
		}
		if skipCovered && contains(ref.Bounds, bounds) {
			// This footprint alone covers the whole query window; later
			// (lower-priority) items cannot contribute pixels.
			info.Stop = StopCovered
			return false
		}
		return l.continueScan(&info, scanLimit, deadline)
	})
	if err != nil {
		scanErr = fmt.Errorf("asset scan failed: %w", err)
	}

	info.Elapsed = time.Since(start)
	metrics.ScanDuration.Observe(info.Elapsed.Seconds())
	metrics.ScanStops.WithLabelValues(info.Stop).Inc()
	metrics.AssetsLocated.Observe(float64(info.Matched))

	return refs, info, scanErr
}

// continueScan applies the scanned-rows and wall-clock budgets between rows.
func (l *Locator) continueScan(info *ScanInfo, scanLimit int, deadline time.Time) bool {
	if info.Scanned >= scanLimit {
		info.Stop = StopScanLimit
		return false
	}
	if time.Now().After(deadline) {
		info.Stop = StopTimeLimit
		return false
	}
	return true
}

// withBoundsFilter conjoins the bbox intersection test onto a compiled WHERE
// clause. The test is overlap, which degenerates to containment for a point.
func withBoundsFilter(where string, args []interface{}, bounds [4]float64) (string, []interface{}) {
	if where == "" {
		where = "TRUE"
	}
	combined := fmt.Sprintf("(%s) AND min_lon <= ? AND max_lon >= ? AND min_lat <= ? AND max_lat >= ?", where)
	out := make([]interface{}, 0, len(args)+4)
	out = append(out, args...)
	out = append(out, bounds[2], bounds[0], bounds[3], bounds[1])
	return combined, out
}

// contains reports whether outer fully contains inner.
func contains(outer, inner [4]float64) bool {
	return outer[0] <= inner[0] && outer[1] <= inner[1] &&
		outer[2] >= inner[2] && outer[3] >= inner[3]
}
