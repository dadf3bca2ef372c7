// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.True(t, cfg.Mosaic.SkipCovered)
	assert.Equal(t, 5*time.Second, cfg.Mosaic.TimeLimit)
}

func TestValidateRejectsBadZoomRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mosaic.MinZoom = 12
	cfg.Mosaic.MaxZoom = 4

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minzoom")
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mosaic.Bounds = [4]float64{10, 0, -10, 5}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bounds")
}

func TestValidateRejectsUnknownCacheBackend(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate())
}

func TestValidateBadgerRequiresPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cache.Backend = "badger"
	cfg.Cache.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("MOSAIC_ITEMS_LIMIT", "7")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Mosaic.ItemsLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestEnvUnknownVariablesIgnored(t *testing.T) {
	t.Setenv("PATH_INFO", "noise")
	t.Setenv("HOME", "/tmp/nowhere")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/mosaicus.duckdb", cfg.Database.Path)
}
