// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package filter implements the CQL2-JSON style filter expressions that
// define a virtual mosaic: parsing, canonicalization, and translation to
// parameterized SQL against the item store.
//
// Canonicalization is the contract the registry's content hashing depends
// on: two byte-different but structurally identical filters must canonicalize
// to identical bytes. Object keys are emitted in a fixed order and numbers
// use minimal round-trip formatting.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Supported comparison and combinator operators.
const (
	OpEqual        = "="
	OpNotEqual     = "<>"
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpIn           = "in"
	OpIsNull       = "isNull"
	OpAnd          = "and"
	OpOr           = "or"
	OpNot          = "not"
)

// ErrInvalidFilter indicates a filter document that does not parse into a
// supported expression tree.
var ErrInvalidFilter = errors.New("invalid filter expression")

// NodeKind discriminates the three shapes a filter node can take.
type NodeKind int

const (
	// KindOp is an operator node with arguments.
	KindOp NodeKind = iota
	// KindProperty is a property reference {"property": name}.
	KindProperty
	// KindLiteral is a scalar or array literal.
	KindLiteral
)

// Node is one node of the filter expression tree.
type Node struct {
	Kind     NodeKind
	Op       string
	Args     []*Node
	Property string
	Literal  interface{}
}

// Parse decodes a CQL2-JSON document into an expression tree.
func Parse(doc []byte) (*Node, error) {
	var raw interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return fromValue(raw)
}

// fromValue converts a decoded JSON value into a Node.
func fromValue(v interface{}) (*Node, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if prop, ok := val["property"]; ok {
			name, ok := prop.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("%w: property reference must be a non-empty string", ErrInvalidFilter)
			}
			return &Node{Kind: KindProperty, Property: name}, nil
		}
		op, ok := val["op"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: object is neither an operator nor a property reference", ErrInvalidFilter)
		}
		if !validOp(op) {
			return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, op)
		}
		rawArgs, _ := val["args"].([]interface{})
		if err := checkArity(op, len(rawArgs)); err != nil {
			return nil, err
		}
		node := &Node{Kind: KindOp, Op: op, Args: make([]*Node, 0, len(rawArgs))}
		for _, a := range rawArgs {
			child, err := fromValue(a)
			if err != nil {
				return nil, err
			}
			node.Args = append(node.Args, child)
		}
		return node, nil
	case []interface{}:
		// Array literals only appear as the right-hand side of `in`.
		return &Node{Kind: KindLiteral, Literal: val}, nil
	default:
		// string, float64, bool, nil
		return &Node{Kind: KindLiteral, Literal: val}, nil
	}
}

func validOp(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual,
		OpIn, OpIsNull, OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

func checkArity(op string, n int) error {
	switch op {
	case OpNot, OpIsNull:
		if n != 1 {
			return fmt.Errorf("%w: %q takes exactly one argument", ErrInvalidFilter, op)
		}
	case OpAnd, OpOr:
		if n < 2 {
			return fmt.Errorf("%w: %q takes at least two arguments", ErrInvalidFilter, op)
		}
	default:
		if n != 2 {
			return fmt.Errorf("%w: %q takes exactly two arguments", ErrInvalidFilter, op)
		}
	}
	return nil
}

// Canonical renders the expression tree as canonical JSON bytes. The output
// is deterministic: fixed key order, no insignificant whitespace, and
// minimal round-trip number formatting. Hashing this output yields the same
// search id for structurally identical filters regardless of input key order.
func (n *Node) Canonical() []byte {
	var b strings.Builder
	n.writeCanonical(&b)
	return []byte(b.String())
}

func (n *Node) writeCanonical(b *strings.Builder) {
	switch n.Kind {
	case KindProperty:
		b.WriteString(`{"property":`)
		writeCanonicalString(b, n.Property)
		b.WriteByte('}')
	case KindLiteral:
		writeCanonicalValue(b, n.Literal)
	case KindOp:
		b.WriteString(`{"args":[`)
		for i, a := range n.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			a.writeCanonical(b)
		}
		b.WriteString(`],"op":`)
		writeCanonicalString(b, n.Op)
		b.WriteByte('}')
	}
}

func writeCanonicalValue(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		writeCanonicalString(b, val)
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case []interface{}:
		b.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, e)
		}
		b.WriteByte(']')
	case map[string]interface{}:
		// Generic objects inside literals keep sorted key order.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalString(b, k)
			b.WriteByte(':')
			writeCanonicalValue(b, val[k])
		}
		b.WriteByte('}')
	default:
		// Unreachable for values produced by json.Unmarshal into interface{}.
		data, _ := json.Marshal(val)
		b.Write(data)
	}
}

// writeCanonicalString emits s as a JSON string with only the mandatory
// escapes. json.Marshal would additionally HTML-escape < > and &, turning the
// ">" operator into ">" and breaking canonical-form stability.
func writeCanonicalString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			b.WriteString(`\"`)
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}

// And combines expressions into a single conjunction. Nil arguments are
// dropped; a single surviving expression is returned unchanged.
func And(exprs ...*Node) *Node {
	args := make([]*Node, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			args = append(args, e)
		}
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return &Node{Kind: KindOp, Op: OpAnd, Args: args}
}

// Comparison builds a binary comparison between a property and a literal.
func Comparison(op, property string, value interface{}) *Node {
	return &Node{Kind: KindOp, Op: op, Args: []*Node{
		{Kind: KindProperty, Property: property},
		{Kind: KindLiteral, Literal: value},
	}}
}

// In builds an `in` membership test between a property and a literal list.
func In(property string, values []interface{}) *Node {
	return &Node{Kind: KindOp, Op: OpIn, Args: []*Node{
		{Kind: KindProperty, Property: property},
		{Kind: KindLiteral, Literal: values},
	}}
}
