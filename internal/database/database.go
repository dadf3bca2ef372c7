// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package database implements the metadata store over DuckDB: the searches
// table backing the mosaic registry and the items table backing spatial
// asset location. All queries are parameterized; no SQL text is ever built
// from request values.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("row not found")

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn             *sql.DB
	cfg              *config.DatabaseConfig
	spatialAvailable bool // Tracks whether the spatial extension is loaded

	// Prepared statement caching
	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for database file.
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network
	// environments. The spatial extension is loaded explicitly below.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// IsSpatialAvailable returns whether the spatial extension is loaded.
// Vector tile generation requires it; everything else works without.
func (db *DB) IsSpatialAvailable() bool {
	return db.spatialAvailable
}

// Conn returns the underlying SQL database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection and all cached prepared statements.
func (db *DB) Close() error {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		if stmt != nil {
			closeQuietly(stmt)
		}
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtCacheMu.Unlock()

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping checks if the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// initialize loads extensions and creates tables and indexes.
func (db *DB) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db.loadSpatialExtension(ctx)

	if err := db.createTables(ctx); err != nil {
		return err
	}
	return db.createIndexes(ctx)
}

// loadSpatialExtension attempts to load the spatial extension. Failure is
// non-fatal: only the MVT endpoint depends on it.
func (db *DB) loadSpatialExtension(ctx context.Context) {
	if _, err := db.conn.ExecContext(ctx, "LOAD spatial;"); err != nil {
		logging.Warn().Err(err).Msg("Spatial extension not available, vector tiles disabled")
		db.spatialAvailable = false
		return
	}
	db.spatialAvailable = true
}

// createTables creates the searches and items tables.
func (db *DB) createTables(ctx context.Context) error {
	statements := []string{
		// JSON-valued columns are stored as VARCHAR: the values are already
		// marshaled JSON text, and VARCHAR scans back as a plain string while
		// json_extract_string casts it on read. A JSON column type would come
		// back from the driver as a decoded map.
		`CREATE TABLE IF NOT EXISTS searches (
			hash            VARCHAR PRIMARY KEY,
			search          VARCHAR NOT NULL,
			metadata        VARCHAR NOT NULL,
			lastused        TIMESTAMP NOT NULL,
			usecount        BIGINT NOT NULL DEFAULT 0,
			estimated_count BIGINT,
			total_count     BIGINT,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id          VARCHAR NOT NULL,
			collection  VARCHAR NOT NULL,
			min_lon     DOUBLE NOT NULL,
			min_lat     DOUBLE NOT NULL,
			max_lon     DOUBLE NOT NULL,
			max_lat     DOUBLE NOT NULL,
			datetime    TIMESTAMP,
			assets      VARCHAR NOT NULL,
			properties  VARCHAR NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// createIndexes creates secondary indexes used by scans and listings.
func (db *DB) createIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_items_bbox ON items (min_lon, max_lon, min_lat, max_lat)`,
		`CREATE INDEX IF NOT EXISTS idx_items_datetime ON items (datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_searches_lastused ON searches (lastused)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// prepared returns a cached prepared statement for the given SQL.
func (db *DB) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	db.stmtCacheMu.Lock()
	if cached, ok := db.stmtCache[query]; ok {
		db.stmtCacheMu.Unlock()
		closeQuietly(stmt)
		return cached, nil
	}
	db.stmtCache[query] = stmt
	db.stmtCacheMu.Unlock()
	return stmt, nil
}

// ensureContext guarantees a deadline on database operations.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}

// closeQuietly closes a resource, logging failures at debug level.
func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close resource")
	}
}
