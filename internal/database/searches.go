// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/models"
)

// Sortable metadata-column names. Anything else sorts on a JSON-extracted
// metadata field.
const (
	sortLastUsed = "lastused"
	sortUseCount = "usecount"
)

// ListOptions controls pagination, ordering and metadata filtering for
// ListSearches.
type ListOptions struct {
	Limit    int
	Offset   int
	SortBy   string
	Desc     bool
	TypeOnly bool              // restrict to metadata type = "mosaic"
	Metadata map[string]string // exact-match filters on metadata keys
}

// UpsertSearch inserts a search row keyed by its content hash. If a row with
// the same hash already exists it is returned untouched; registration never
// bumps usage counters. The returned bool reports whether a new row was
// created.
func (db *DB) UpsertSearch(ctx context.Context, s *models.Search) (*models.Search, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()

	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO searches (hash, search, metadata, lastused, usecount, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		s.ID, string(s.Filter), string(metaJSON), s.CreatedAt, s.CreatedAt)
	metrics.ObserveDBQuery("upsert", "searches", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert search: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	stored, err := db.GetSearch(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetSearch fetches one search row by hash. Returns ErrNotFound when no row
// matches.
func (db *DB) GetSearch(ctx context.Context, id string) (*models.Search, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	// Hot path: every tile request resolves its search first.
	stmt, err := db.prepared(ctx,
		`SELECT hash, search, metadata, lastused, usecount, estimated_count, total_count, created_at
		 FROM searches WHERE hash = ?`)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	row := stmt.QueryRowContext(ctx, id)

	s, err := scanSearch(row)
	metrics.ObserveDBQuery("get", "searches", start, err)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search %s: %w", id, err)
	}
	return s, nil
}

// TouchSearch atomically bumps the usage counter and last-used timestamp.
// The increment happens in SQL; there is no read-modify-write window.
func (db *DB) TouchSearch(ctx context.Context, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt, err := db.prepared(ctx,
		`UPDATE searches SET usecount = usecount + 1, lastused = ? WHERE hash = ?`)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := stmt.ExecContext(ctx, time.Now().UTC(), id)
	metrics.ObserveDBQuery("touch", "searches", start, err)
	if err != nil {
		return fmt.Errorf("failed to touch search %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSearches returns a page of search rows plus the total number of rows
// matching the filters (ignoring pagination).
func (db *DB) ListSearches(ctx context.Context, opts ListOptions) ([]*models.Search, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := buildListFilters(opts)

	start := time.Now()
	var matched int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM searches"+where, args...).Scan(&matched)
	metrics.ObserveDBQuery("count", "searches", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count searches: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT hash, search, metadata, lastused, usecount, estimated_count, total_count, created_at
		 FROM searches%s ORDER BY %s LIMIT ? OFFSET ?`,
		where, listOrderClause(opts))
	args = append(args, opts.Limit, opts.Offset)

	start = time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBQuery("list", "searches", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list searches: %w", err)
	}
	defer closeQuietly(rows)

	var results []*models.Search
	for rows.Next() {
		s, err := scanSearch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate searches: %w", err)
	}
	return results, matched, nil
}

// DeleteSearch removes one search row by hash.
func (db *DB) DeleteSearch(ctx context.Context, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM searches WHERE hash = ?`, id)
	metrics.ObserveDBQuery("delete", "searches", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete search %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ComputeSearchCounts lazily fills in the cached matched-item counts for one
// search row. The estimated count scans at most scanCap candidate rows; the
// total count is exact. Both are persisted on the row.
func (db *DB) ComputeSearchCounts(ctx context.Context, id, where string, args []interface{}, scanCap int) (estimated, total int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if where == "" {
		where = "TRUE"
	}

	start := time.Now()
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT 1 FROM items WHERE %s LIMIT %d)`, where, scanCap),
		args...).Scan(&estimated)
	metrics.ObserveDBQuery("estimate", "items", start, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to estimate count: %w", err)
	}

	start = time.Now()
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM items WHERE %s`, where), args...).Scan(&total)
	metrics.ObserveDBQuery("total", "items", start, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute total count: %w", err)
	}

	start = time.Now()
	_, err = db.conn.ExecContext(ctx,
		`UPDATE searches SET estimated_count = ?, total_count = ? WHERE hash = ?`,
		estimated, total, id)
	metrics.ObserveDBQuery("update", "searches", start, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to store counts for search %s: %w", id, err)
	}
	return estimated, total, nil
}

// buildListFilters returns the WHERE clause (with leading space) and bound
// args for a listing query. Metadata filters match on JSON-extracted values.
func buildListFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if opts.TypeOnly {
		clauses = append(clauses, `json_extract_string(metadata, '$.type') = ?`)
		args = append(args, models.MosaicType)
	}
	for k, v := range opts.Metadata {
		clauses = append(clauses, `json_extract_string(metadata, ?) = ?`)
		args = append(args, "$."+k, v)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// listOrderClause maps a sort field onto an ORDER BY expression. Real columns
// sort directly; any other name sorts on the matching metadata key, with NULLs
// last for ascending and first for descending so rows missing the key never
// lead.
func listOrderClause(opts ListOptions) string {
	var expr string
	switch opts.SortBy {
	case sortLastUsed, "":
		expr = "lastused"
	case sortUseCount:
		expr = "usecount"
	default:
		expr = fmt.Sprintf(`json_extract_string(metadata, '$.%s')`, sanitizeSortKey(opts.SortBy))
	}
	if opts.Desc {
		return expr + " DESC NULLS FIRST"
	}
	return expr + " ASC NULLS LAST"
}

// sanitizeSortKey strips characters that could escape the JSON path literal.
// Sort keys are identifiers, not user data, but they arrive on the query
// string.
func sanitizeSortKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '\'' || r == '"' || r == '\\' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanSearch.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSearch(r rowScanner) (*models.Search, error) {
	var (
		s          models.Search
		filterJSON string
		metaJSON   string
		estimated  sql.NullInt64
		total      sql.NullInt64
	)
	err := r.Scan(&s.ID, &filterJSON, &metaJSON, &s.LastUsed, &s.UseCount, &estimated, &total, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Filter = []byte(filterJSON)
	if err := json.Unmarshal([]byte(metaJSON), &s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search metadata: %w", err)
	}
	if estimated.Valid {
		s.EstimatedCount = &estimated.Int64
	}
	if total.Valid {
		s.TotalCount = &total.Int64
	}
	return &s, nil
}
