// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package search implements the virtual mosaic registry: content-addressed
// registration of search requests, lookup, usage tracking and listing.
package search

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/zeebo/blake3"

	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/filter"
	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/models"
)

// ErrSearchNotFound is returned when no registered search matches an id.
var ErrSearchNotFound = errors.New("search not found")

// searchIDLength is the hex length of a search id. The content hash is
// truncated; 128 bits is ample for collision resistance at registry scale.
const searchIDLength = 32

// Store is the persistence surface the registry needs. *database.DB
// satisfies it.
type Store interface {
	UpsertSearch(ctx context.Context, s *models.Search) (*models.Search, bool, error)
	GetSearch(ctx context.Context, id string) (*models.Search, error)
	TouchSearch(ctx context.Context, id string) error
	ListSearches(ctx context.Context, opts database.ListOptions) ([]*models.Search, int64, error)
	ComputeSearchCounts(ctx context.Context, id, where string, args []interface{}, scanCap int) (int64, int64, error)
}

// Registry registers and resolves virtual mosaic definitions.
type Registry struct {
	store   Store
	scanCap int // row budget for the lazy estimated count
}

// New creates a Registry over the given store.
func New(store Store, scanCap int) *Registry {
	return &Registry{store: store, scanCap: scanCap}
}

// Compiled is a search's filter lowered to SQL, ready for the items scan.
type Compiled struct {
	Where   string
	Args    []interface{}
	OrderBy string
}

// storedSearch is the persisted search document. The canonical rendering of
// this document (not the raw request body) is what gets hashed, so two
// requests expressing the same constraints register the same mosaic.
type storedSearch struct {
	Filter json.RawMessage    `json:"filter,omitempty"`
	SortBy []filter.SortField `json:"sortby,omitempty"`
}

// Register normalizes, canonicalizes and stores a search request, returning
// the stored row and whether it was newly created. Re-registering an existing
// search returns the original row untouched; registration never bumps usage
// counters.
func (r *Registry) Register(ctx context.Context, req *filter.SearchRequest) (*models.Search, bool, error) {
	node, err := req.Normalize()
	if err != nil {
		return nil, false, err
	}

	doc := canonicalDocument(node, normalizeSortBy(req.SortBy))
	id := hashSearch(doc)

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["type"] = models.MosaicType

	now := time.Now().UTC()
	stored, created, err := r.store.UpsertSearch(ctx, &models.Search{
		ID:        id,
		Filter:    doc,
		Metadata:  metadata,
		LastUsed:  now,
		CreatedAt: now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to register search: %w", err)
	}

	outcome := "existing"
	if created {
		outcome = "created"
	}
	metrics.SearchRegistrations.WithLabelValues(outcome).Inc()
	return stored, created, nil
}

// Get resolves one registered search by id.
func (r *Registry) Get(ctx context.Context, id string) (*models.Search, error) {
	s, err := r.store.GetSearch(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	return s, err
}

// Touch records one use of a search. Lookup misses map to ErrSearchNotFound.
func (r *Registry) Touch(ctx context.Context, id string) error {
	err := r.store.TouchSearch(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	return err
}

// List returns a page of registered mosaics plus the total matched count.
func (r *Registry) List(ctx context.Context, opts database.ListOptions) ([]*models.Search, int64, error) {
	opts.TypeOnly = true
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	return r.store.ListSearches(ctx, opts)
}

// Compile lowers a stored search to its SQL scan inputs.
func (r *Registry) Compile(s *models.Search) (*Compiled, error) {
	doc, err := decodeStored(s.Filter)
	if err != nil {
		return nil, err
	}

	var node *filter.Node
	if len(doc.Filter) > 0 {
		node, err = filter.Parse(doc.Filter)
		if err != nil {
			return nil, fmt.Errorf("stored filter for search %s is invalid: %w", s.ID, err)
		}
	}

	where, args, err := node.SQL()
	if err != nil {
		return nil, fmt.Errorf("failed to compile search %s: %w", s.ID, err)
	}
	return &Compiled{
		Where:   where,
		Args:    args,
		OrderBy: filter.OrderBy(doc.SortBy),
	}, nil
}

// EnsureCounts fills in the search's cached matched-item counts if they are
// missing, mutating s in place.
func (r *Registry) EnsureCounts(ctx context.Context, s *models.Search) error {
	if s.EstimatedCount != nil && s.TotalCount != nil {
		return nil
	}
	compiled, err := r.Compile(s)
	if err != nil {
		return err
	}
	estimated, total, err := r.store.ComputeSearchCounts(ctx, s.ID, compiled.Where, compiled.Args, r.scanCap)
	if err != nil {
		return err
	}
	s.EstimatedCount = &estimated
	s.TotalCount = &total
	return nil
}

// Info converts a stored search row to its wire form.
func Info(s *models.Search, links []models.Link) (*models.SearchInfo, error) {
	doc, err := decodeStored(s.Filter)
	if err != nil {
		return nil, err
	}

	var filterDoc interface{}
	if len(doc.Filter) > 0 {
		if err := json.Unmarshal(doc.Filter, &filterDoc); err != nil {
			return nil, fmt.Errorf("stored filter for search %s is not valid JSON: %w", s.ID, err)
		}
	}

	return &models.SearchInfo{
		ID:             s.ID,
		Filter:         filterDoc,
		Metadata:       s.Metadata,
		LastUsed:       s.LastUsed,
		UseCount:       s.UseCount,
		EstimatedCount: s.EstimatedCount,
		TotalCount:     s.TotalCount,
		Links:          links,
	}, nil
}

// canonicalDocument renders the stored search document deterministically:
// fixed key order, canonical filter bytes, normalized sort directions. An
// unconstrained match-all search renders as {}.
func canonicalDocument(node *filter.Node, sortBy []filter.SortField) []byte {
	var b strings.Builder
	b.WriteByte('{')
	if node != nil {
		b.WriteString(`"filter":`)
		b.Write(node.Canonical())
	}
	if len(sortBy) > 0 {
		if node != nil {
			b.WriteByte(',')
		}
		b.WriteString(`"sortby":[`)
		for i, f := range sortBy {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, `{"direction":%q,"field":%q}`, f.Direction, f.Field)
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// normalizeSortBy lowercases directions and applies the asc default, so
// sortby ordering variants hash identically.
func normalizeSortBy(fields []filter.SortField) []filter.SortField {
	if len(fields) == 0 {
		return nil
	}
	out := make([]filter.SortField, len(fields))
	for i, f := range fields {
		dir := strings.ToLower(f.Direction)
		if dir != "desc" {
			dir = "asc"
		}
		out[i] = filter.SortField{Field: f.Field, Direction: dir}
	}
	return out
}

// hashSearch derives the content-addressed search id.
func hashSearch(doc []byte) string {
	sum := blake3.Sum256(doc)
	return hex.EncodeToString(sum[:])[:searchIDLength]
}

func decodeStored(raw []byte) (*storedSearch, error) {
	var doc storedSearch
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode stored search: %w", err)
		}
	}
	return &doc, nil
}
