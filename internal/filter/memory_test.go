package filter

import (
	"testing"

	"github.com/antoinevdp/datalake-api/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestPredicateMembership(t *testing.T) {
	s := New()
	s.AddMembership("TRANSACTION_TYPE", []string{"purchase", "payment"})
	match := s.Predicate()

	assert.True(t, match(models.Record{"TRANSACTION_TYPE": "purchase"}))
	assert.True(t, match(models.Record{"TRANSACTION_TYPE": "payment"}))
	assert.False(t, match(models.Record{"TRANSACTION_TYPE": "refund"}))
	assert.False(t, match(models.Record{"TRANSACTION_TYPE": nil}))
	assert.False(t, match(models.Record{}))
}

func TestPredicateNumericNullNeverMatches(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		rec  models.Record
		want bool
	}{
		{"gt match", OpGt, models.Record{"AMOUNT_USD": 150.0}, true},
		{"gt boundary", OpGt, models.Record{"AMOUNT_USD": 100.0}, false},
		{"gt int value", OpGt, models.Record{"AMOUNT_USD": int64(101)}, true},
		{"gt null", OpGt, models.Record{"AMOUNT_USD": nil}, false},
		{"gt absent", OpGt, models.Record{}, false},
		{"gt non numeric", OpGt, models.Record{"AMOUNT_USD": "150"}, false},
		{"lt match", OpLt, models.Record{"AMOUNT_USD": 50.0}, true},
		{"lt null", OpLt, models.Record{"AMOUNT_USD": nil}, false},
		{"eq match", OpEq, models.Record{"AMOUNT_USD": 100.0}, true},
		{"eq int", OpEq, models.Record{"AMOUNT_USD": int64(100)}, true},
		{"eq null", OpEq, models.Record{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			switch tt.op {
			case OpGt:
				s.Gt("AMOUNT_USD", 100)
			case OpLt:
				s.Lt("AMOUNT_USD", 100)
			case OpEq:
				s.Eq("AMOUNT_USD", 100)
			}
			assert.Equal(t, tt.want, s.Predicate()(tt.rec))
		})
	}
}

func TestPredicateConjunction(t *testing.T) {
	s := New()
	s.AddMembership("STATUS", []string{"completed"})
	s.Gt("AMOUNT_USD", 10)

	match := s.Predicate()
	assert.True(t, match(models.Record{"STATUS": "completed", "AMOUNT_USD": 20.0}))
	assert.False(t, match(models.Record{"STATUS": "completed", "AMOUNT_USD": 5.0}))
	assert.False(t, match(models.Record{"STATUS": "pending", "AMOUNT_USD": 20.0}))
}

func TestPredicateEmptySpecMatchesAll(t *testing.T) {
	var s *Spec
	assert.True(t, s.Predicate()(models.Record{"X": 1}))
	assert.True(t, New().Predicate()(models.Record{}))
}

func TestPredicateMembershipOverNonStrings(t *testing.T) {
	s := New()
	s.AddMembership("QUANTITY", []string{"3"})
	match := s.Predicate()

	assert.True(t, match(models.Record{"QUANTITY": int64(3)}))
	assert.True(t, match(models.Record{"QUANTITY": 3.0}))
	assert.False(t, match(models.Record{"QUANTITY": int64(4)}))
}
