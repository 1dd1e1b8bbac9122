package filter

import (
	"strconv"
	"time"

	"github.com/antoinevdp/datalake-api/pkg/models"
)

// Predicate compiles the spec to a function over a single record. A null
// field (absent or nil) never satisfies a clause, membership included,
// matching the SQL translator's NULL semantics.
func (s *Spec) Predicate() func(models.Record) bool {
	if s == nil || len(s.clauses) == 0 {
		return func(models.Record) bool { return true }
	}
	clauses := s.clauses
	return func(rec models.Record) bool {
		for i := range clauses {
			if !clauses[i].match(rec) {
				return false
			}
		}
		return true
	}
}

func (c *clause) match(rec models.Record) bool {
	v, ok := rec.Field(c.field)
	if !ok {
		return false
	}
	switch c.kind {
	case kindMembership:
		s, ok := stringValue(v)
		if !ok {
			return false
		}
		for _, want := range c.values {
			if s == want {
				return true
			}
		}
		return false
	case kindNumeric:
		n, ok := models.Numeric(v)
		if !ok {
			return false
		}
		switch c.op {
		case OpGt:
			return n > c.number
		case OpLt:
			return n < c.number
		case OpEq:
			return n == c.number
		}
	}
	return false
}

// stringValue renders a scalar the way its SQL text form would read, so
// membership over integer-typed columns behaves like IN over the bound
// strings.
func stringValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int:
		return strconv.Itoa(s), true
	case int32:
		return strconv.FormatInt(int64(s), 10), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	case time.Time:
		return s.Format(time.RFC3339), true
	default:
		return "", false
	}
}
