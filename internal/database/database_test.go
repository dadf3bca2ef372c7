// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/models"
)

// testDBSemaphore serializes database creation. Concurrent DuckDB CGO calls
// can hang under CI resource pressure, so only one test holds a connection at
// a time. Released via t.Cleanup when the test completes.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	db, err := New(cfg)
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close test database: %v", err)
		}
	})
	return db
}

func testSearch(id string) *models.Search {
	return &models.Search{
		ID:        id,
		Filter:    []byte(`{"args":[{"property":"collection"},"sentinel-2"],"op":"="}`),
		Metadata:  map[string]string{"type": models.MosaicType, "name": "test"},
		CreatedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func insertTestItem(t *testing.T, db *DB, id, collection string, bounds [4]float64, dt time.Time) {
	t.Helper()
	err := db.InsertItem(context.Background(), &Item{
		ID:         id,
		Collection: collection,
		Bounds:     bounds,
		Datetime:   &dt,
		Assets: map[string]models.Asset{
			"cog": {Href: "https://data.example.com/" + id + ".tif", Type: "image/tiff"},
		},
		Properties: map[string]interface{}{"eo:cloud_cover": 12.5},
	})
	require.NoError(t, err)
}

func TestUpsertSearchIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := testSearch("abc123")
	stored, created, err := db.UpsertSearch(ctx, s)
	require.NoError(t, err)
	assert.True(t, created, "first upsert should create the row")
	assert.Equal(t, "abc123", stored.ID)
	assert.Equal(t, int64(0), stored.UseCount)

	again := testSearch("abc123")
	again.Metadata = map[string]string{"type": models.MosaicType, "name": "different"}
	stored2, created, err := db.UpsertSearch(ctx, again)
	require.NoError(t, err)
	assert.False(t, created, "second upsert must not create a new row")
	assert.Equal(t, "test", stored2.Metadata["name"], "existing row must win")
	assert.Equal(t, int64(0), stored2.UseCount, "registration never bumps usecount")
}

func TestSearchColumnsRoundTripAsText(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := testSearch("roundtrip")
	_, _, err := db.UpsertSearch(ctx, s)
	require.NoError(t, err)

	// The search and metadata columns hold marshaled JSON text and must come
	// back through the driver byte-for-byte, not as decoded values.
	stored, err := db.GetSearch(ctx, "roundtrip")
	require.NoError(t, err)
	assert.JSONEq(t, string(s.Filter), string(stored.Filter))
	assert.Equal(t, s.Metadata, stored.Metadata)

	insertTestItem(t, db, "rt-1", "sentinel-2", [4]float64{0, 0, 1, 1}, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	var rows int
	err = db.ScanItems(ctx, "", nil, "", 10, func(row ItemRow) bool {
		rows++
		ref, err := row.AssetRef()
		require.NoError(t, err)
		assert.Equal(t, "https://data.example.com/rt-1.tif", ref.Assets["cog"].Href)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
}

func TestGetSearchNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSearch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSearch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, _, err := db.UpsertSearch(ctx, testSearch("touchme"))
	require.NoError(t, err)

	require.NoError(t, db.TouchSearch(ctx, "touchme"))
	require.NoError(t, db.TouchSearch(ctx, "touchme"))

	s, err := db.GetSearch(ctx, "touchme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.UseCount)
	assert.WithinDuration(t, time.Now().UTC(), s.LastUsed, time.Minute)

	assert.ErrorIs(t, db.TouchSearch(ctx, "missing"), ErrNotFound)
}

func TestListSearches(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"s1", "s2", "s3"} {
		s := testSearch(id)
		s.Metadata["name"] = id
		if id == "s3" {
			s.Metadata["type"] = "other"
		}
		_, _, err := db.UpsertSearch(ctx, s)
		require.NoError(t, err)
		for j := 0; j < i; j++ {
			require.NoError(t, db.TouchSearch(ctx, id))
		}
	}

	results, matched, err := db.ListSearches(ctx, ListOptions{
		Limit: 10, SortBy: sortUseCount, Desc: true, TypeOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), matched, "type filter must exclude non-mosaic rows")
	require.Len(t, results, 2)
	assert.Equal(t, "s2", results[0].ID, "highest usecount first")

	// Metadata exact-match filter
	results, matched, err = db.ListSearches(ctx, ListOptions{
		Limit: 10, Metadata: map[string]string{"name": "s1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].ID)

	// Pagination
	results, matched, err = db.ListSearches(ctx, ListOptions{Limit: 1, Offset: 1, TypeOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), matched)
	assert.Len(t, results, 1)
}

func TestScanItemsOrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insertTestItem(t, db, "old", "c1", [4]float64{0, 0, 1, 1}, base)
	insertTestItem(t, db, "mid", "c1", [4]float64{0, 0, 1, 1}, base.Add(24*time.Hour))
	insertTestItem(t, db, "new", "c1", [4]float64{0, 0, 1, 1}, base.Add(48*time.Hour))

	var got []string
	err := db.ScanItems(ctx, "", nil, "", 100, func(r ItemRow) bool {
		got = append(got, r.ID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, got, "default order is newest first")

	// Early stop
	got = nil
	err = db.ScanItems(ctx, "", nil, "", 100, func(r ItemRow) bool {
		got = append(got, r.ID)
		return false
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Scan limit enforced in SQL
	got = nil
	err = db.ScanItems(ctx, "", nil, "", 2, func(r ItemRow) bool {
		got = append(got, r.ID)
		return true
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestScanItemsWhere(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insertTestItem(t, db, "a", "sentinel-2", [4]float64{0, 0, 1, 1}, dt)
	insertTestItem(t, db, "b", "landsat-9", [4]float64{0, 0, 1, 1}, dt)

	var got []string
	err := db.ScanItems(ctx, "collection = ?", []interface{}{"sentinel-2"}, "", 100, func(r ItemRow) bool {
		got = append(got, r.ID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestItemRowAssetRef(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insertTestItem(t, db, "a", "sentinel-2", [4]float64{10, 20, 11, 21}, dt)

	var ref models.AssetRef
	err := db.ScanItems(ctx, "", nil, "", 1, func(r ItemRow) bool {
		var err error
		ref, err = r.AssetRef()
		require.NoError(t, err)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, "a", ref.ID)
	assert.Equal(t, [4]float64{10, 20, 11, 21}, ref.Bounds)
	assert.Contains(t, ref.Assets, "cog")
	assert.Equal(t, "https://data.example.com/a.tif", ref.Assets["cog"].Href)
}

func TestCollections(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insertTestItem(t, db, "a", "sentinel-2", [4]float64{0, 0, 1, 1}, dt)
	insertTestItem(t, db, "b", "sentinel-2", [4]float64{2, 2, 3, 3}, dt)
	insertTestItem(t, db, "c", "landsat-9", [4]float64{-1, -1, 0, 0}, dt)

	cols, err := db.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "landsat-9", cols[0].ID)
	assert.Equal(t, "sentinel-2", cols[1].ID)
	assert.Equal(t, int64(2), cols[1].ItemCount)
	assert.Equal(t, [4]float64{0, 0, 3, 3}, cols[1].Extent)
}

func TestComputeSearchCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, _, err := db.UpsertSearch(ctx, testSearch("counts"))
	require.NoError(t, err)

	dt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c", "d"} {
		insertTestItem(t, db, id, "sentinel-2", [4]float64{0, 0, 1, 1}, dt)
	}

	estimated, total, err := db.ComputeSearchCounts(ctx, "counts", "collection = ?", []interface{}{"sentinel-2"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), estimated, "estimate is capped by the scan budget")
	assert.Equal(t, int64(4), total)

	s, err := db.GetSearch(ctx, "counts")
	require.NoError(t, err)
	require.NotNil(t, s.EstimatedCount)
	require.NotNil(t, s.TotalCount)
	assert.Equal(t, int64(4), *s.TotalCount)
}

func TestCalculateTileBounds(t *testing.T) {
	// Zoom 0 covers the whole Web Mercator world
	b := CalculateTileBounds(0, 0, 0)
	assert.InDelta(t, -180.0, b.MinX, 1e-9)
	assert.InDelta(t, 180.0, b.MaxX, 1e-9)
	assert.InDelta(t, -85.0511, b.MinY, 0.001)
	assert.InDelta(t, 85.0511, b.MaxY, 0.001)

	// Tiles at zoom 1 partition the world
	left := CalculateTileBounds(1, 0, 0)
	right := CalculateTileBounds(1, 1, 0)
	assert.InDelta(t, 0.0, left.MaxX, 1e-9)
	assert.InDelta(t, 0.0, right.MinX, 1e-9)
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
