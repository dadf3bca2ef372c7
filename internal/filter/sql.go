// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package filter

import (
	"fmt"
	"strings"
)

// Reserved properties stored as dedicated columns on the items table.
// Everything else lives in the properties JSON document.
var columnProperties = map[string]string{
	"id":         "id",
	"collection": "collection",
	"datetime":   "datetime",
}

// SQL translates the expression tree into a parameterized WHERE clause for
// the DuckDB items table. The clause is precompiled once per request; no SQL
// text is ever built from literal values.
//
// A nil receiver (match-all search) translates to a tautology so callers can
// always AND the result with their spatial predicate.
func (n *Node) SQL() (string, []interface{}, error) {
	if n == nil {
		return "TRUE", nil, nil
	}
	var sb strings.Builder
	var args []interface{}
	if err := n.writeSQL(&sb, &args); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

func (n *Node) writeSQL(sb *strings.Builder, args *[]interface{}) error {
	if n.Kind != KindOp {
		return fmt.Errorf("%w: expected an operator at clause position", ErrInvalidFilter)
	}

	switch n.Op {
	case OpAnd, OpOr:
		joiner := " AND "
		if n.Op == OpOr {
			joiner = " OR "
		}
		sb.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(joiner)
			}
			if err := a.writeSQL(sb, args); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
		return nil

	case OpNot:
		sb.WriteString("NOT (")
		if err := n.Args[0].writeSQL(sb, args); err != nil {
			return err
		}
		sb.WriteByte(')')
		return nil

	case OpIsNull:
		expr, err := propertyExpr(n.Args[0], nil, args)
		if err != nil {
			return err
		}
		sb.WriteString(expr)
		sb.WriteString(" IS NULL")
		return nil

	case OpIn:
		prop, list := n.Args[0], n.Args[1]
		values, ok := list.Literal.([]interface{})
		if list.Kind != KindLiteral || !ok {
			return fmt.Errorf("%w: `in` needs a literal list", ErrInvalidFilter)
		}
		if len(values) == 0 {
			// Empty membership list matches nothing.
			sb.WriteString("FALSE")
			return nil
		}
		expr, err := propertyExpr(prop, values[0], args)
		if err != nil {
			return err
		}
		sb.WriteString(expr)
		sb.WriteString(" IN (")
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
			*args = append(*args, v)
		}
		sb.WriteByte(')')
		return nil

	default:
		// Binary comparison: property on one side, literal on the other.
		prop, lit := n.Args[0], n.Args[1]
		op := n.Op
		if prop.Kind == KindLiteral && lit.Kind == KindProperty {
			prop, lit = lit, prop
			op = flipComparison(op)
		}
		if prop.Kind != KindProperty || lit.Kind != KindLiteral {
			return fmt.Errorf("%w: comparison needs a property and a literal", ErrInvalidFilter)
		}
		expr, err := propertyExpr(prop, lit.Literal, args)
		if err != nil {
			return err
		}
		sb.WriteString(expr)
		sb.WriteByte(' ')
		sb.WriteString(op)
		sb.WriteString(" ?")
		*args = append(*args, lit.Literal)
		return nil
	}
}

// propertyExpr returns the SQL expression addressing a property, appending
// any bound arguments the expression needs. The JSON path travels as a bound
// parameter; property names never touch the SQL text. JSON properties
// compared against numbers are cast so DuckDB compares numerically rather
// than lexically.
func propertyExpr(n *Node, sample interface{}, args *[]interface{}) (string, error) {
	if n.Kind != KindProperty {
		return "", fmt.Errorf("%w: expected a property reference", ErrInvalidFilter)
	}
	if col, ok := columnProperties[n.Property]; ok {
		return col, nil
	}
	expr := `json_extract_string(properties, ?)`
	*args = append(*args, "$."+n.Property)
	switch sample.(type) {
	case float64, int, int64:
		return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", expr), nil
	case bool:
		return fmt.Sprintf("TRY_CAST(%s AS BOOLEAN)", expr), nil
	}
	return expr, nil
}

func flipComparison(op string) string {
	switch op {
	case OpLess:
		return OpGreater
	case OpLessEqual:
		return OpGreaterEqual
	case OpGreater:
		return OpLess
	case OpGreaterEqual:
		return OpLessEqual
	}
	return op
}

// OrderBy translates a search's sort order into an ORDER BY fragment over
// the items table. Only column-backed properties participate; JSON-backed
// fields sort on the extracted string value. The item id is always appended
// as a tiebreaker so scan order stays deterministic across pages.
func OrderBy(fields []SortField) string {
	if len(fields) == 0 {
		return "datetime DESC NULLS LAST, id"
	}
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		col, ok := columnProperties[f.Field]
		if !ok {
			col = fmt.Sprintf(`json_extract_string(properties, '$."%s"')`, sanitizeSortField(f.Field))
		}
		dir := "ASC"
		nulls := "NULLS LAST"
		if strings.EqualFold(f.Direction, "desc") {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", col, dir, nulls))
	}
	parts = append(parts, "id")
	return strings.Join(parts, ", ")
}

// sanitizeSortField strips characters that could escape the JSON path
// literal in an ORDER BY expression, where bound parameters are not
// available. Quotes, backslashes and statement punctuation never appear in
// legitimate property names.
func sanitizeSortField(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '\'', '"', '\\', ';', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
