// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package main is the entry point for the Mosaicus server.
//
// Mosaicus registers STAC-style searches as virtual mosaics and serves them
// as composited map tiles. The server initializes components in order:
//
//  1. Configuration: koanf v2 with layered defaults, YAML file, env vars
//  2. Database: DuckDB metadata store (searches and items)
//  3. Tile cache: in-memory LRU or BadgerDB
//  4. Raster reader: HTTP asset reader with circuit breaker and rate limit
//  5. HTTP server: Chi router under a suture supervision tree
//
// Graceful shutdown on SIGINT/SIGTERM drains in-flight requests, then closes
// the cache and database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/mosaicus/internal/api"
	"github.com/tomtom215/mosaicus/internal/cache"
	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/mosaic"
	"github.com/tomtom215/mosaicus/internal/raster"
	"github.com/tomtom215/mosaicus/internal/search"
	"github.com/tomtom215/mosaicus/internal/supervisor"
	"github.com/tomtom215/mosaicus/internal/supervisor/services"
)

// countsWarmInterval paces the background pass that fills in item counts on
// searches registered but never inspected.
const countsWarmInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("cache_backend", cfg.Cache.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting Mosaicus")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Bool("spatial", db.IsSpatialAvailable()).Msg("Database initialized")

	tiles, err := cache.New(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize tile cache")
	}
	defer func() {
		if err := tiles.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing tile cache")
		}
	}()

	registry := search.New(db, cfg.Mosaic.ScanLimit)
	loc := locator.New(db, cfg.Mosaic)
	compositor := mosaic.NewCompositor(raster.NewHTTPReader(cfg.Raster), cfg.Mosaic.Concurrency)

	handler := api.NewHandler(cfg, db, registry, loc, compositor, tiles)
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddDataService(services.NewPeriodicService("counts-warmer", countsWarmInterval,
		func(ctx context.Context) error {
			return warmSearchCounts(ctx, registry)
		}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree exited")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}
