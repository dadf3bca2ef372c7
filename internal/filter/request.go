// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// SearchRequest is the registration body accepted by the register endpoint.
// Either a full CQL2-JSON filter or the simplified shorthand fields
// (collections, datetime, query) may be supplied; shorthand fields are
// normalized into the filter tree so both forms hash identically when they
// express the same constraints.
type SearchRequest struct {
	Filter      json.RawMessage                   `json:"filter,omitempty"`
	FilterLang  string                            `json:"filter-lang,omitempty"`
	Collections []string                          `json:"collections,omitempty"`
	Datetime    string                            `json:"datetime,omitempty"`
	Query       map[string]map[string]interface{} `json:"query,omitempty"`
	SortBy      []SortField                       `json:"sortby,omitempty"`
	Metadata    map[string]string                 `json:"metadata,omitempty"`
}

// SortField is one element of a search's sort order.
type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"` // asc (default) or desc
}

// queryOps maps the shorthand query-extension operators onto filter ops.
var queryOps = map[string]string{
	"eq":  OpEqual,
	"neq": OpNotEqual,
	"lt":  OpLess,
	"lte": OpLessEqual,
	"gt":  OpGreater,
	"gte": OpGreaterEqual,
}

// Normalize folds the shorthand fields into a single expression tree.
// Returns nil when the request carries no constraints at all (a match-all
// search).
func (r *SearchRequest) Normalize() (*Node, error) {
	if r.FilterLang != "" && r.FilterLang != "cql2-json" {
		return nil, fmt.Errorf("%w: unsupported filter-lang %q", ErrInvalidFilter, r.FilterLang)
	}

	parts := make([]*Node, 0, 4)

	if len(r.Filter) > 0 {
		node, err := Parse(r.Filter)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	if len(r.Collections) == 1 {
		parts = append(parts, Comparison(OpEqual, "collection", r.Collections[0]))
	} else if len(r.Collections) > 1 {
		values := make([]interface{}, len(r.Collections))
		for i, c := range r.Collections {
			values[i] = c
		}
		parts = append(parts, In("collection", values))
	}

	if r.Datetime != "" {
		node, err := datetimeExpr(r.Datetime)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	if len(r.Query) > 0 {
		node, err := queryExpr(r.Query)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	return And(parts...), nil
}

// datetimeExpr converts a single instant or a "start/end" interval (with
// ".." for open ends) into comparisons on the datetime property.
func datetimeExpr(value string) (*Node, error) {
	if !strings.Contains(value, "/") {
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return nil, fmt.Errorf("%w: bad datetime %q: %v", ErrInvalidFilter, value, err)
		}
		return Comparison(OpEqual, "datetime", value), nil
	}

	bounds := strings.SplitN(value, "/", 2)
	var parts []*Node
	if bounds[0] != ".." && bounds[0] != "" {
		if _, err := time.Parse(time.RFC3339, bounds[0]); err != nil {
			return nil, fmt.Errorf("%w: bad interval start %q: %v", ErrInvalidFilter, bounds[0], err)
		}
		parts = append(parts, Comparison(OpGreaterEqual, "datetime", bounds[0]))
	}
	if bounds[1] != ".." && bounds[1] != "" {
		if _, err := time.Parse(time.RFC3339, bounds[1]); err != nil {
			return nil, fmt.Errorf("%w: bad interval end %q: %v", ErrInvalidFilter, bounds[1], err)
		}
		parts = append(parts, Comparison(OpLessEqual, "datetime", bounds[1]))
	}
	if parts == nil {
		return nil, fmt.Errorf("%w: open interval %q matches everything", ErrInvalidFilter, value)
	}
	return And(parts...), nil
}

// queryExpr converts the {property: {op: value}} shorthand into comparisons.
// Properties and operators are visited in sorted order so normalization is
// deterministic.
func queryExpr(query map[string]map[string]interface{}) (*Node, error) {
	props := sortedKeys(query)
	var parts []*Node
	for _, prop := range props {
		ops := query[prop]
		for _, op := range sortedKeysAny(ops) {
			value := ops[op]
			if op == "in" {
				list, ok := value.([]interface{})
				if !ok {
					return nil, fmt.Errorf("%w: `in` value for %q must be an array", ErrInvalidFilter, prop)
				}
				parts = append(parts, In(prop, list))
				continue
			}
			mapped, ok := queryOps[op]
			if !ok {
				return nil, fmt.Errorf("%w: unsupported query operator %q", ErrInvalidFilter, op)
			}
			parts = append(parts, Comparison(mapped, prop, value))
		}
	}
	return And(parts...), nil
}

func sortedKeys(m map[string]map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAny(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
