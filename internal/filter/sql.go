package filter

import (
	"fmt"
	"strings"
)

// Dialect selects the placeholder style of the compiled WHERE fragment.
type Dialect int

const (
	// DialectPositional uses "?" placeholders (sqlite, clickhouse, mysql).
	DialectPositional Dialect = iota
	// DialectNumbered uses "$1".."$n" placeholders (postgres).
	DialectNumbered
)

func (d Dialect) placeholder(n int) string {
	if d == DialectNumbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Where compiles the spec to a WHERE fragment (without the keyword) plus
// its bound arguments. columns is the authoritative column set of the
// target table: a clause on any other field compiles to the constant
// 1 = 0, so no caller-supplied name ever reaches the SQL text, and the
// surviving set matches the in-memory predicate, where a field no row
// carries satisfies nothing. Values are always bound, never
// interpolated. An empty spec compiles to an empty fragment.
func (s *Spec) Where(d Dialect, columns []string) (string, []interface{}) {
	if s == nil || len(s.clauses) == 0 {
		return "", nil
	}
	colSet := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		colSet[c] = struct{}{}
	}

	parts := make([]string, 0, len(s.clauses))
	var args []interface{}
	next := 0
	ph := func() string {
		next++
		return d.placeholder(next)
	}

	for i := range s.clauses {
		c := &s.clauses[i]
		if _, known := colSet[c.field]; !known {
			parts = append(parts, "1 = 0")
			continue
		}
		ident := quoteIdent(c.field)
		switch c.kind {
		case kindMembership:
			marks := make([]string, len(c.values))
			for j, v := range c.values {
				marks[j] = ph()
				args = append(args, v)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", ident, strings.Join(marks, ", ")))
		case kindNumeric:
			var cmp string
			switch c.op {
			case OpGt:
				cmp = ">"
			case OpLt:
				cmp = "<"
			case OpEq:
				cmp = "="
			}
			parts = append(parts, fmt.Sprintf("(%s IS NOT NULL AND %s %s %s)", ident, ident, cmp, ph()))
			args = append(args, c.number)
		}
	}
	return strings.Join(parts, " AND "), args
}

// quoteIdent wraps a column name in ANSI double quotes. Names come from
// the table's own column listing, never from request input; quoting only
// protects case and reserved words.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
