// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/models"
)

// ItemRow is one catalog item as it comes off an asset-location scan.
// Assets and Properties are raw JSON; the scan loop decodes assets only for
// rows that survive the limit checks.
type ItemRow struct {
	ID         string
	Collection string
	MinLon     float64
	MinLat     float64
	MaxLon     float64
	MaxLat     float64
	Datetime   sql.NullTime
	Assets     []byte
	Properties []byte
}

// Item is the ingestion-side representation of a catalog item.
type Item struct {
	ID         string
	Collection string
	Bounds     [4]float64 // min_lon, min_lat, max_lon, max_lat
	Datetime   *time.Time
	Assets     map[string]models.Asset
	Properties map[string]interface{}
}

// InsertItem inserts or replaces one catalog item.
func (db *DB) InsertItem(ctx context.Context, item *Item) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	assetsJSON, err := json.Marshal(item.Assets)
	if err != nil {
		return fmt.Errorf("failed to marshal item assets: %w", err)
	}
	props := item.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal item properties: %w", err)
	}

	var dt interface{}
	if item.Datetime != nil {
		dt = item.Datetime.UTC()
	}

	start := time.Now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO items
		 (id, collection, min_lon, min_lat, max_lon, max_lat, datetime, assets, properties)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Collection,
		item.Bounds[0], item.Bounds[1], item.Bounds[2], item.Bounds[3],
		dt, string(assetsJSON), string(propsJSON))
	metrics.ObserveDBQuery("insert", "items", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert item %s/%s: %w", item.Collection, item.ID, err)
	}
	return nil
}

// ScanItems streams item rows matching the given WHERE clause to fn in
// orderBy order, examining at most scanLimit rows. fn returning false stops
// the scan early; the row budget is enforced in SQL via LIMIT so a runaway
// filter cannot walk the whole table.
func (db *DB) ScanItems(ctx context.Context, where string, args []interface{}, orderBy string, scanLimit int, fn func(ItemRow) bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if where == "" {
		where = "TRUE"
	}
	if orderBy == "" {
		orderBy = "datetime DESC NULLS LAST, id"
	}

	query := fmt.Sprintf(
		`SELECT id, collection, min_lon, min_lat, max_lon, max_lat, datetime, assets, properties
		 FROM items WHERE %s ORDER BY %s LIMIT %d`,
		where, orderBy, scanLimit)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBQuery("scan", "items", start, err)
	if err != nil {
		return fmt.Errorf("failed to scan items: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var (
			row    ItemRow
			assets string
			props  string
		)
		if err := rows.Scan(&row.ID, &row.Collection,
			&row.MinLon, &row.MinLat, &row.MaxLon, &row.MaxLat,
			&row.Datetime, &assets, &props); err != nil {
			return fmt.Errorf("failed to scan item row: %w", err)
		}
		row.Assets = []byte(assets)
		row.Properties = []byte(props)
		if !fn(row) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Collections summarizes the distinct collections present in the items table
// with their item counts and spatial extents.
func (db *DB) Collections(ctx context.Context) ([]models.Collection, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT collection, COUNT(*), MIN(min_lon), MIN(min_lat), MAX(max_lon), MAX(max_lat)
		 FROM items GROUP BY collection ORDER BY collection`)
	metrics.ObserveDBQuery("list", "items", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer closeQuietly(rows)

	var results []models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.ItemCount,
			&c.Extent[0], &c.Extent[1], &c.Extent[2], &c.Extent[3]); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collections: %w", err)
	}
	return results, nil
}

// AssetRef decodes the row's raw asset JSON into an AssetRef.
func (r ItemRow) AssetRef() (models.AssetRef, error) {
	ref := models.AssetRef{
		ID:         r.ID,
		Collection: r.Collection,
		Bounds:     [4]float64{r.MinLon, r.MinLat, r.MaxLon, r.MaxLat},
	}
	if err := json.Unmarshal(r.Assets, &ref.Assets); err != nil {
		return models.AssetRef{}, fmt.Errorf("failed to decode assets for item %s/%s: %w", r.Collection, r.ID, err)
	}
	return ref, nil
}
