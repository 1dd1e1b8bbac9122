// Package filter holds the backend-agnostic filter representation shared
// by the file-collection and relational query paths. A Spec is built once
// per request and compiled either to an in-memory predicate or to a
// parameterized SQL WHERE fragment; both compilations accept the same
// records.
package filter

import (
	"strconv"
	"strings"
)

// Op is a numeric comparison operator.
type Op string

const (
	OpGt Op = "gt"
	OpLt Op = "lt"
	OpEq Op = "eq"
)

type clauseKind int

const (
	kindMembership clauseKind = iota
	kindNumeric
)

type clause struct {
	kind   clauseKind
	field  string
	values []string // membership set
	op     Op
	number float64
}

// Spec is a conjunction of clauses. Build it with the Add helpers, then
// treat it as immutable; compiled forms share the underlying clauses.
type Spec struct {
	clauses []clause
}

// New returns an empty spec, which matches every record.
func New() *Spec {
	return &Spec{}
}

// Len returns the number of clauses that survived building.
func (s *Spec) Len() int {
	if s == nil {
		return 0
	}
	return len(s.clauses)
}

// Empty reports whether the spec constrains anything at all.
func (s *Spec) Empty() bool {
	return s.Len() == 0
}

// AddMembership appends a set-membership clause on field. Blank values
// are discarded; an empty set drops the clause entirely and reports
// false. Filters degrade, they never fail a request.
func (s *Spec) AddMembership(field string, values []string) bool {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			kept = append(kept, v)
		}
	}
	if field == "" || len(kept) == 0 {
		return false
	}
	s.clauses = append(s.clauses, clause{kind: kindMembership, field: field, values: kept})
	return true
}

// AddNumeric parses raw as a number and appends an op clause on field.
// Unparseable input drops the clause and reports false.
func (s *Spec) AddNumeric(op Op, field, raw string) bool {
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || field == "" {
		return false
	}
	s.addNumber(op, field, n)
	return true
}

// Gt appends field > x.
func (s *Spec) Gt(field string, x float64) *Spec { s.addNumber(OpGt, field, x); return s }

// Lt appends field < x.
func (s *Spec) Lt(field string, x float64) *Spec { s.addNumber(OpLt, field, x); return s }

// Eq appends field = x.
func (s *Spec) Eq(field string, x float64) *Spec { s.addNumber(OpEq, field, x); return s }

func (s *Spec) addNumber(op Op, field string, x float64) {
	s.clauses = append(s.clauses, clause{kind: kindNumeric, field: field, op: op, number: x})
}

// String renders the spec for logs and the query listing, e.g.
// "CURRENCY IN [USD EUR] AND AMOUNT_USD gt 100".
func (s *Spec) String() string {
	if s.Empty() {
		return ""
	}
	parts := make([]string, 0, len(s.clauses))
	for i := range s.clauses {
		c := &s.clauses[i]
		switch c.kind {
		case kindMembership:
			parts = append(parts, c.field+" IN ["+strings.Join(c.values, " ")+"]")
		case kindNumeric:
			parts = append(parts, c.field+" "+string(c.op)+" "+strconv.FormatFloat(c.number, 'f', -1, 64))
		}
	}
	return strings.Join(parts, " AND ")
}
