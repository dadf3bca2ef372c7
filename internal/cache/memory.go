// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package cache

import (
	"sync"
	"time"
)

// lruEntry is a node in the doubly-linked recency list.
type lruEntry struct {
	key         string
	data        []byte
	contentType string
	expiresAt   time.Time
	prev, next  *lruEntry
}

// MemoryStore is a thread-safe LRU tile cache with TTL. A doubly-linked list
// gives O(1) eviction; expiration is lazy on Get.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruEntry
	head     *lruEntry // sentinel, head.next = most recently used
	tail     *lruEntry // sentinel, tail.prev = least recently used
}

// NewMemoryStore creates an LRU tile cache.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	head := &lruEntry{}
	tail := &lruEntry{}
	head.next = tail
	tail.prev = head
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry),
		head:     head,
		tail:     tail,
	}
}

// Get returns a cached tile, refreshing its recency.
func (s *MemoryStore) Get(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		recordLookup(false)
		return nil, "", false
	}
	if time.Now().After(entry.expiresAt) {
		s.unlink(entry)
		delete(s.items, key)
		recordLookup(false)
		return nil, "", false
	}

	s.unlink(entry)
	s.pushFront(entry)
	recordLookup(true)
	return entry.data, entry.contentType, true
}

// Set stores a tile, evicting the least recently used entry at capacity.
func (s *MemoryStore) Set(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.items[key]; ok {
		entry.data = data
		entry.contentType = contentType
		entry.expiresAt = time.Now().Add(s.ttl)
		s.unlink(entry)
		s.pushFront(entry)
		return
	}

	if len(s.items) >= s.capacity {
		lru := s.tail.prev
		if lru != s.head {
			s.unlink(lru)
			delete(s.items, lru.key)
		}
	}

	entry := &lruEntry{
		key:         key,
		data:        data,
		contentType: contentType,
		expiresAt:   time.Now().Add(s.ttl),
	}
	s.items[key] = entry
	s.pushFront(entry)
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of live entries, counting expired ones until they
// are lazily collected.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) unlink(e *lruEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (s *MemoryStore) pushFront(e *lruEntry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}
