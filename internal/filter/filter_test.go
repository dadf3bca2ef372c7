// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package filter

import (
	"strings"
	"testing"
)

func TestParseCanonical(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "simple equality",
			doc:  `{"op":"=","args":[{"property":"collection"},"collectionA"]}`,
			want: `{"args":[{"property":"collection"},"collectionA"],"op":"="}`,
		},
		{
			name: "key order does not matter",
			doc:  `{"args":[{"property":"collection"},"collectionA"],"op":"="}`,
			want: `{"args":[{"property":"collection"},"collectionA"],"op":"="}`,
		},
		{
			name: "numbers use minimal formatting",
			doc:  `{"op":">","args":[{"property":"eo:cloud_cover"},10.0]}`,
			want: `{"args":[{"property":"eo:cloud_cover"},10],"op":">"}`,
		},
		{
			name: "nested combinators",
			doc:  `{"op":"and","args":[{"op":"=","args":[{"property":"collection"},"a"]},{"op":"<","args":[{"property":"eo:cloud_cover"},50]}]}`,
			want: `{"args":[{"args":[{"property":"collection"},"a"],"op":"="},{"args":[{"property":"eo:cloud_cover"},50],"op":"<"}],"op":"and"}`,
		},
		{
			name: "in with list",
			doc:  `{"op":"in","args":[{"property":"collection"},["a","b"]]}`,
			want: `{"args":[{"property":"collection"},["a","b"]],"op":"in"}`,
		},
		{
			name: "strings keep html and escape characters literal",
			doc:  `{"op":"=","args":[{"property":"title"},"<a> & \"b\"\nc"]}`,
			want: `{"args":[{"property":"title"},"<a> & \"b\"\nc"],"op":"="}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := string(node.Canonical()); got != tt.want {
				t.Errorf("Canonical() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"unknown operator", `{"op":"like","args":[{"property":"id"},"a%"]}`},
		{"missing op", `{"args":[{"property":"id"},"a"]}`},
		{"bad arity not", `{"op":"not","args":[]}`},
		{"bad arity and", `{"op":"and","args":[{"op":"isNull","args":[{"property":"id"}]}]}`},
		{"empty property", `{"op":"=","args":[{"property":""},"a"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Errorf("Parse(%s) expected error, got nil", tt.doc)
			}
		})
	}
}

func TestCanonicalIdempotence(t *testing.T) {
	// Two byte-different renderings of the same filter must canonicalize
	// identically: this is what keeps registration idempotent.
	a := `{"op":"=","args":[{"property":"collection"},"collectionA"]}`
	b := `{ "args": [ { "property": "collection" }, "collectionA" ], "op": "=" }`

	nodeA, err := Parse([]byte(a))
	if err != nil {
		t.Fatalf("Parse(a) error = %v", err)
	}
	nodeB, err := Parse([]byte(b))
	if err != nil {
		t.Fatalf("Parse(b) error = %v", err)
	}

	if ca, cb := string(nodeA.Canonical()), string(nodeB.Canonical()); ca != cb {
		t.Errorf("canonical forms diverge:\n  a = %s\n  b = %s", ca, cb)
	}
}

func TestNormalizeShorthand(t *testing.T) {
	tests := []struct {
		name     string
		req      SearchRequest
		contains []string
		wantNil  bool
		wantErr  bool
	}{
		{
			name:    "empty request is match-all",
			req:     SearchRequest{},
			wantNil: true,
		},
		{
			name:     "single collection",
			req:      SearchRequest{Collections: []string{"landsat"}},
			contains: []string{`"property":"collection"`, `"landsat"`, `"op":"="`},
		},
		{
			name:     "multiple collections become in",
			req:      SearchRequest{Collections: []string{"a", "b"}},
			contains: []string{`"op":"in"`, `["a","b"]`},
		},
		{
			name:     "datetime interval",
			req:      SearchRequest{Datetime: "2020-01-01T00:00:00Z/2020-12-31T00:00:00Z"},
			contains: []string{`"op":">="`, `"op":"<="`, `"property":"datetime"`},
		},
		{
			name:     "open start interval",
			req:      SearchRequest{Datetime: "../2020-12-31T00:00:00Z"},
			contains: []string{`"op":"<="`},
		},
		{
			name:     "query shorthand",
			req:      SearchRequest{Query: map[string]map[string]interface{}{"eo:cloud_cover": {"lt": 10.0}}},
			contains: []string{`"op":"<"`, `"eo:cloud_cover"`},
		},
		{
			name:    "fully open interval rejected",
			req:     SearchRequest{Datetime: "../.."},
			wantErr: true,
		},
		{
			name:    "bad filter-lang rejected",
			req:     SearchRequest{FilterLang: "cql-text"},
			wantErr: true,
		},
		{
			name:    "unknown query operator rejected",
			req:     SearchRequest{Query: map[string]map[string]interface{}{"x": {"startsWith": "a"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := tt.req.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Normalize() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if tt.wantNil {
				if node != nil {
					t.Fatalf("Normalize() = %s, want nil", node.Canonical())
				}
				return
			}
			canon := string(node.Canonical())
			for _, want := range tt.contains {
				if !strings.Contains(canon, want) {
					t.Errorf("canonical %s missing %s", canon, want)
				}
			}
		})
	}
}

func TestSQLTranslation(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantSQL  string
		wantArgs int
	}{
		{
			name:     "column equality",
			doc:      `{"op":"=","args":[{"property":"collection"},"collectionA"]}`,
			wantSQL:  "collection = ?",
			wantArgs: 1,
		},
		{
			name:     "json property with numeric cast",
			doc:      `{"op":"<","args":[{"property":"eo:cloud_cover"},10]}`,
			wantSQL:  `TRY_CAST(json_extract_string(properties, ?) AS DOUBLE) < ?`,
			wantArgs: 2,
		},
		{
			name:     "flipped operands",
			doc:      `{"op":"<","args":[10,{"property":"eo:cloud_cover"}]}`,
			wantSQL:  `TRY_CAST(json_extract_string(properties, ?) AS DOUBLE) > ?`,
			wantArgs: 2,
		},
		{
			name:     "conjunction",
			doc:      `{"op":"and","args":[{"op":"=","args":[{"property":"collection"},"a"]},{"op":"isNull","args":[{"property":"datetime"}]}]}`,
			wantSQL:  "(collection = ? AND datetime IS NULL)",
			wantArgs: 1,
		},
		{
			name:     "membership",
			doc:      `{"op":"in","args":[{"property":"collection"},["a","b","c"]]}`,
			wantSQL:  "collection IN (?, ?, ?)",
			wantArgs: 3,
		},
		{
			name:     "empty membership matches nothing",
			doc:      `{"op":"in","args":[{"property":"collection"},[]]}`,
			wantSQL:  "FALSE",
			wantArgs: 0,
		},
		{
			name:     "negation",
			doc:      `{"op":"not","args":[{"op":"=","args":[{"property":"collection"},"a"]}]}`,
			wantSQL:  "NOT (collection = ?)",
			wantArgs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			sql, args, err := node.SQL()
			if err != nil {
				t.Fatalf("SQL() error = %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("SQL() = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestSQLPropertyNameNeverReachesText(t *testing.T) {
	hostile := `a') OR (1=1) --`

	sql, args, err := Comparison(OpEqual, hostile, "x").SQL()
	if err != nil {
		t.Fatalf("SQL() error = %v", err)
	}
	if sql != `json_extract_string(properties, ?) = ?` {
		t.Errorf("SQL() = %q, property name leaked into the clause", sql)
	}
	if len(args) != 2 || args[0] != "$."+hostile || args[1] != "x" {
		t.Errorf("args = %v, want JSON path then literal", args)
	}
}

func TestOrderBySanitizesSortFields(t *testing.T) {
	got := OrderBy([]SortField{{Field: `x'); DROP TABLE items; --`}})
	want := `json_extract_string(properties, '$."x DROP TABLE items --"') ASC NULLS LAST, id`
	if got != want {
		t.Errorf("OrderBy() = %q, want %q", got, want)
	}
}

func TestSQLNilNode(t *testing.T) {
	var node *Node
	sql, args, err := node.SQL()
	if err != nil {
		t.Fatalf("SQL() error = %v", err)
	}
	if sql != "TRUE" || len(args) != 0 {
		t.Errorf("SQL() = %q with %d args, want TRUE with none", sql, len(args))
	}
}

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name   string
		fields []SortField
		want   string
	}{
		{
			name: "default order",
			want: "datetime DESC NULLS LAST, id",
		},
		{
			name:   "column ascending",
			fields: []SortField{{Field: "datetime"}},
			want:   "datetime ASC NULLS LAST, id",
		},
		{
			name:   "json property descending",
			fields: []SortField{{Field: "gsd", Direction: "desc"}},
			want:   `json_extract_string(properties, '$."gsd"') DESC NULLS LAST, id`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OrderBy(tt.fields); got != tt.want {
				t.Errorf("OrderBy() = %q, want %q", got, tt.want)
			}
		})
	}
}
