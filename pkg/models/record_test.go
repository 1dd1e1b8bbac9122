package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchAppendExtendsSchema(t *testing.T) {
	b := NewBatch("TRANSACTION_ID", "AMOUNT_USD")
	b.Append(Record{"TRANSACTION_ID": "t1", "AMOUNT_USD": 10.0})
	b.Append(Record{"TRANSACTION_ID": "t2", "CURRENCY": "USD", "STATUS": "completed"})

	assert.Equal(t, []string{"TRANSACTION_ID", "AMOUNT_USD", "CURRENCY", "STATUS"}, b.Columns)
	assert.Equal(t, 2, b.Len())
	assert.True(t, b.HasColumn("CURRENCY"))
	assert.False(t, b.HasColumn("QUANTITY"))
}

func TestMergeUnionsDisjointSchemas(t *testing.T) {
	a := NewBatch("A", "B")
	a.Append(Record{"A": "1", "B": int64(2)})

	c := NewBatch("C")
	c.Append(Record{"C": true})

	merged := Merge(a, c)
	require.Equal(t, []string{"A", "B", "C"}, merged.Columns)
	require.Equal(t, 2, merged.Len())

	// First record reads null for the column it never had.
	_, ok := merged.Records[0].Field("C")
	assert.False(t, ok)

	row := merged.Row(1)
	assert.Equal(t, []interface{}{nil, nil, true}, row)
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge()
	assert.Equal(t, 0, merged.Len())
	assert.Empty(t, merged.Columns)

	merged = Merge(nil, NewBatch("X"))
	assert.Equal(t, []string{"X"}, merged.Columns)
}

func TestSortByDescNullsLast(t *testing.T) {
	b := NewBatch("ID", "TS")
	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Append(Record{"ID": "old", "TS": t1})
	b.Append(Record{"ID": "null-a", "TS": nil})
	b.Append(Record{"ID": "new", "TS": t2})
	b.Append(Record{"ID": "null-b"})

	b.SortByDesc("TS")

	ids := make([]string, 0, b.Len())
	for _, r := range b.Records {
		ids = append(ids, r["ID"].(string))
	}
	// Newest first, nulls last in original relative order.
	assert.Equal(t, []string{"new", "old", "null-a", "null-b"}, ids)
}

func TestSortByDescUnknownFieldIsStable(t *testing.T) {
	b := NewBatch("ID")
	for _, id := range []string{"a", "b", "c"} {
		b.Append(Record{"ID": id})
	}
	b.SortByDesc("NOPE")

	assert.Equal(t, "a", b.Records[0]["ID"])
	assert.Equal(t, "b", b.Records[1]["ID"])
	assert.Equal(t, "c", b.Records[2]["ID"])
}

func TestCompare(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name string
		a, b interface{}
		want int
	}{
		{"int vs float", int64(3), 3.5, -1},
		{"equal mixed numerics", int64(4), 4.0, 0},
		{"strings", "apple", "banana", -1},
		{"times", late, early, 1},
		{"bools", false, true, -1},
		{"cross kind number before string", 1.0, "1", -1},
		{"cross kind string before bool", "x", true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestRecordFieldNullAndAbsent(t *testing.T) {
	r := Record{"A": "x", "B": nil}

	v, ok := r.Field("A")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = r.Field("B")
	assert.False(t, ok)

	_, ok = r.Field("C")
	assert.False(t, ok)
}

func TestNumeric(t *testing.T) {
	for _, v := range []interface{}{int(1), int32(1), int64(1), float32(1), float64(1)} {
		n, ok := Numeric(v)
		assert.True(t, ok)
		assert.Equal(t, 1.0, n)
	}
	_, ok := Numeric("1")
	assert.False(t, ok)
	_, ok = Numeric(nil)
	assert.False(t, ok)
}
