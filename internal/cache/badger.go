// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/mosaicus/internal/logging"
)

// BadgerStore is a disk-backed tile cache. Badger's native entry TTL handles
// expiration; a single byte prefixes each value to carry the content type.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// Content-type value prefix bytes.
const (
	typePNG byte = iota
	typeJPEG
	typeMVT
	typeOther
)

// NewBadgerStore opens (or creates) the tile cache at path.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile cache at %s: %w", path, err)
	}

	store := &BadgerStore{db: db, ttl: ttl}
	go store.gcLoop()
	return store, nil
}

// Get returns a cached tile.
func (s *BadgerStore) Get(key string) ([]byte, string, bool) {
	var data []byte
	var contentType string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 1 {
				return badger.ErrKeyNotFound
			}
			contentType = decodeType(val[0])
			data = append([]byte(nil), val[1:]...)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logging.Warn().Err(err).Msg("Tile cache read failed")
		}
		recordLookup(false)
		return nil, "", false
	}
	recordLookup(true)
	return data, contentType, true
}

// Set stores a tile with the configured TTL. Failures are logged, not
// returned: the cache is advisory.
func (s *BadgerStore) Set(key string, data []byte, contentType string) {
	val := make([]byte, 0, len(data)+1)
	val = append(val, encodeType(contentType))
	val = append(val, data...)

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Tile cache write failed")
	}
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// gcLoop reclaims value-log space from expired tiles.
func (s *BadgerStore) gcLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if s.db.IsClosed() {
			return
		}
		for {
			if err := s.db.RunValueLogGC(0.5); err != nil {
				break
			}
		}
	}
}

func encodeType(contentType string) byte {
	switch contentType {
	case "image/png":
		return typePNG
	case "image/jpeg":
		return typeJPEG
	case "application/vnd.mapbox-vector-tile":
		return typeMVT
	}
	return typeOther
}

func decodeType(b byte) string {
	switch b {
	case typePNG:
		return "image/png"
	case typeJPEG:
		return "image/jpeg"
	case typeMVT:
		return "application/vnd.mapbox-vector-tile"
	}
	return "application/octet-stream"
}
