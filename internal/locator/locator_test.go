// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package locator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/search"
)

// fakeItemStore replays a fixed row list, honouring the SQL-side scan limit
// but not the WHERE clause (the locator passes that through to DuckDB; here
// the rows are pre-filtered).
type fakeItemStore struct {
	rows      []database.ItemRow
	lastWhere string
	lastArgs  []interface{}
	rowDelay  time.Duration
}

func (f *fakeItemStore) ScanItems(_ context.Context, where string, args []interface{}, _ string, scanLimit int, fn func(database.ItemRow) bool) error {
	f.lastWhere = where
	f.lastArgs = args
	for i, row := range f.rows {
		if i >= scanLimit {
			return nil
		}
		if f.rowDelay > 0 {
			time.Sleep(f.rowDelay)
		}
		if !fn(row) {
			return nil
		}
	}
	return nil
}

func itemRow(id string, bounds [4]float64) database.ItemRow {
	return database.ItemRow{
		ID:         id,
		Collection: "sentinel-2",
		MinLon:     bounds[0],
		MinLat:     bounds[1],
		MaxLon:     bounds[2],
		MaxLat:     bounds[3],
		Assets:     []byte(fmt.Sprintf(`{"cog":{"href":"https://data.example.com/%s.tif"}}`, id)),
	}
}

func testConfig() config.MosaicConfig {
	return config.MosaicConfig{
		ScanLimit:   100,
		ItemsLimit:  10,
		TimeLimit:   5 * time.Second,
		SkipCovered: false,
	}
}

func matchAll() *search.Compiled {
	return &search.Compiled{Where: "TRUE", OrderBy: "datetime DESC NULLS LAST, id"}
}

func TestAssetsForTileExhausted(t *testing.T) {
	store := &fakeItemStore{rows: []database.ItemRow{
		itemRow("a", [4]float64{0, 0, 1, 1}),
		itemRow("b", [4]float64{0.5, 0.5, 2, 2}),
	}}
	l := New(store, testConfig())

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 10, 512, 511, Options{})
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, StopExhausted, info.Stop)
	assert.Equal(t, 2, info.Scanned)
	assert.Equal(t, 2, info.Matched)

	// The bbox test rides on the WHERE clause with four bound args.
	assert.Contains(t, store.lastWhere, "min_lon <= ?")
	assert.Len(t, store.lastArgs, 4)
}

func TestItemsLimitStopsScan(t *testing.T) {
	store := &fakeItemStore{rows: []database.ItemRow{
		itemRow("a", [4]float64{0, 0, 1, 1}),
		itemRow("b", [4]float64{0, 0, 1, 1}),
		itemRow("c", [4]float64{0, 0, 1, 1}),
	}}
	l := New(store, testConfig())

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 0, 0, 0, Options{ItemsLimit: 2})
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, StopItemsLimit, info.Stop)
}

func TestScanLimitStopsScan(t *testing.T) {
	rows := make([]database.ItemRow, 5)
	for i := range rows {
		rows[i] = itemRow(fmt.Sprintf("item-%d", i), [4]float64{0, 0, 1, 1})
	}
	l := New(&fakeItemStore{rows: rows}, testConfig())

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 0, 0, 0, Options{ScanLimit: 3})
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	assert.Equal(t, StopScanLimit, info.Stop)
	assert.Equal(t, 3, info.Scanned)
}

func TestTimeLimitStopsScan(t *testing.T) {
	rows := make([]database.ItemRow, 50)
	for i := range rows {
		rows[i] = itemRow(fmt.Sprintf("item-%d", i), [4]float64{0, 0, 1, 1})
	}
	l := New(&fakeItemStore{rows: rows, rowDelay: 5 * time.Millisecond}, testConfig())

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 0, 0, 0, Options{TimeLimit: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StopTimeLimit, info.Stop)
	assert.Less(t, len(refs), 50)
}

func TestSkipCoveredStopsAfterCoveringItem(t *testing.T) {
	// First matched footprint covers the whole world, so every tile window is
	// covered immediately.
	store := &fakeItemStore{rows: []database.ItemRow{
		itemRow("global", [4]float64{-180, -90, 180, 90}),
		itemRow("extra", [4]float64{0, 0, 1, 1}),
	}}
	cfg := testConfig()
	cfg.SkipCovered = true
	l := New(store, cfg)

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 5, 16, 15, Options{})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, StopCovered, info.Stop)

	// Per-request override turns it back off.
	off := false
	refs, info, err = l.AssetsForTile(context.Background(), matchAll(), 5, 16, 15, Options{SkipCovered: &off})
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, StopExhausted, info.Stop)
}

func TestUndecodableRowSkipped(t *testing.T) {
	bad := itemRow("bad", [4]float64{0, 0, 1, 1})
	bad.Assets = []byte(`{not json`)
	store := &fakeItemStore{rows: []database.ItemRow{
		bad,
		itemRow("good", [4]float64{0, 0, 1, 1}),
	}}
	l := New(store, testConfig())

	refs, info, err := l.AssetsForTile(context.Background(), matchAll(), 0, 0, 0, Options{})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "good", refs[0].ID)
	assert.Equal(t, 2, info.Scanned)
	assert.Equal(t, 1, info.Matched)
}

func TestAssetsForPoint(t *testing.T) {
	l := New(&fakeItemStore{rows: []database.ItemRow{
		itemRow("a", [4]float64{10, 20, 11, 21}),
	}}, testConfig())

	refs, _, err := l.AssetsForPoint(context.Background(), matchAll(), 10.5, 20.5, Options{})
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	_, _, err = l.AssetsForPoint(context.Background(), matchAll(), 200, 0, Options{})
	assert.Error(t, err)
}
