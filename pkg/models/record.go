package models

import (
	"sort"
	"time"
)

// Record is a single transaction-like event keyed by upper-snake column
// name. A missing key and an explicit nil value both read as null.
type Record map[string]interface{}

// Field returns the value for name. ok is false when the field is absent
// or null, so callers never have to distinguish the two cases.
func (r Record) Field(name string) (interface{}, bool) {
	v, present := r[name]
	if !present || v == nil {
		return nil, false
	}
	return v, true
}

// Batch holds records together with their ordered union schema. Columns
// lists every field seen across the records in first-seen order; a record
// missing one of them reads null for it.
type Batch struct {
	Columns []string
	Records []Record

	colSet map[string]struct{}
}

// NewBatch creates an empty batch with the given starting columns.
func NewBatch(columns ...string) *Batch {
	b := &Batch{
		Columns: make([]string, 0, len(columns)),
		colSet:  make(map[string]struct{}, len(columns)),
	}
	for _, c := range columns {
		b.addColumn(c)
	}
	return b
}

func (b *Batch) ensureColSet() {
	if b.colSet == nil {
		b.colSet = make(map[string]struct{}, len(b.Columns))
		for _, c := range b.Columns {
			b.colSet[c] = struct{}{}
		}
	}
}

func (b *Batch) addColumn(name string) {
	b.ensureColSet()
	if _, ok := b.colSet[name]; ok {
		return
	}
	b.colSet[name] = struct{}{}
	b.Columns = append(b.Columns, name)
}

// HasColumn reports whether name is part of the batch schema.
func (b *Batch) HasColumn(name string) bool {
	b.ensureColSet()
	_, ok := b.colSet[name]
	return ok
}

// Append adds a record, extending the schema with any unseen fields
// (sorted within a single record so map iteration cannot leak in).
func (b *Batch) Append(rec Record) {
	var unseen []string
	for k := range rec {
		if !b.HasColumn(k) {
			unseen = append(unseen, k)
		}
	}
	if len(unseen) > 0 {
		sort.Strings(unseen)
		for _, c := range unseen {
			b.addColumn(c)
		}
	}
	b.Records = append(b.Records, rec)
}

// Len returns the number of records.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Row projects record i onto the batch schema, nulls included.
func (b *Batch) Row(i int) []interface{} {
	row := make([]interface{}, len(b.Columns))
	rec := b.Records[i]
	for j, c := range b.Columns {
		if v, ok := rec.Field(c); ok {
			row[j] = v
		}
	}
	return row
}

// Merge combines batches into one: columns are unioned in first-seen
// order and records concatenated. Disjoint schemas never fail; records
// keep their own fields and read null for the rest. Record maps are
// shared, not copied.
func Merge(batches ...*Batch) *Batch {
	out := NewBatch()
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, c := range b.Columns {
			out.addColumn(c)
		}
		out.Records = append(out.Records, b.Records...)
	}
	return out
}

// SortByDesc stable-sorts records descending by field. Records where the
// field is null sort after all non-null values regardless of direction.
// Sorting by a column no record carries leaves the batch order untouched.
func (b *Batch) SortByDesc(field string) {
	sort.SliceStable(b.Records, func(i, j int) bool {
		vi, iok := b.Records[i].Field(field)
		vj, jok := b.Records[j].Field(field)
		if !iok || !jok {
			return iok && !jok // non-null before null
		}
		return Compare(vi, vj) > 0
	})
}

// kind ranks keep cross-kind comparisons deterministic: numbers, then
// times, then strings, then bools.
func kindRank(v interface{}) int {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return 0
	case time.Time:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

// Compare orders two non-null scalar values ascending, returning -1, 0
// or 1. Values of different kinds order by kind rank.
func Compare(a, b interface{}) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		na, _ := Numeric(a)
		nb, _ := Numeric(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
	case 1:
		ta := a.(time.Time)
		tb := b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
	case 2:
		sa := a.(string)
		sb := b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	case 3:
		ba := a.(bool)
		bb := b.(bool)
		switch {
		case !ba && bb:
			return -1
		case ba && !bb:
			return 1
		}
	}
	return 0
}

// Numeric coerces integer and floating values to float64. ok is false
// for anything non-numeric, including numeric-looking strings.
func Numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
