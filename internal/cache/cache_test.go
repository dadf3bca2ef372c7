// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/mosaicus/internal/config"
)

func TestMemoryStoreBasics(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	defer func() { _ = s.Close() }()

	_, _, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("a", []byte("tile-a"), "image/png")
	data, ct, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("tile-a"), data)
	assert.Equal(t, "image/png", ct)

	// Overwrite
	s.Set("a", []byte("tile-a2"), "image/jpeg")
	data, ct, ok = s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("tile-a2"), data)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(10, 10*time.Millisecond)
	s.Set("a", []byte("x"), "image/png")

	_, _, ok := s.Get("a")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, _, ok = s.Get("a")
	assert.False(t, ok, "expired entries miss")
	assert.Equal(t, 0, s.Len(), "expired entry collected on access")
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(3, time.Minute)
	for i := 0; i < 3; i++ {
		s.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}, "image/png")
	}

	// Touch k0 so k1 becomes least recently used.
	_, _, ok := s.Get("k0")
	require.True(t, ok)

	s.Set("k3", []byte{3}, "image/png")
	assert.Equal(t, 3, s.Len())

	_, _, ok = s.Get("k1")
	assert.False(t, ok, "least recently used entry evicted")
	_, _, ok = s.Get("k0")
	assert.True(t, ok)
	_, _, ok = s.Get("k3")
	assert.True(t, ok)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, _, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("tile:abc:1/2/3", []byte("payload"), "image/jpeg")
	data, ct, ok := s.Get("tile:abc:1/2/3")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "image/jpeg", ct)
}

func TestBadgerStoreTTL(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), time.Second)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	s.Set("k", []byte("v"), "image/png")
	time.Sleep(1200 * time.Millisecond)
	_, _, ok := s.Get("k")
	assert.False(t, ok)
}

func TestNewBackendSelection(t *testing.T) {
	s, err := New(config.CacheConfig{Backend: "memory", Capacity: 5, TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(config.CacheConfig{Backend: "badger", Path: t.TempDir(), TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.CacheConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestTileKey(t *testing.T) {
	k1 := TileKey("abc", 3, 4, 5, 1, "png", "cog", "first")
	k2 := TileKey("abc", 3, 4, 5, 2, "png", "cog", "first")
	assert.NotEqual(t, k1, k2, "scale participates in the key")
	assert.Contains(t, k1, "abc")
}
