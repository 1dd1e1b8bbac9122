package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddNumericDropsUnparseable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kept bool
	}{
		{"integer", "100", true},
		{"float", "99.5", true},
		{"negative", "-3", true},
		{"padded", " 42 ", true},
		{"word", "abc", false},
		{"empty", "", false},
		{"trailing junk", "10x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			kept := s.AddNumeric(OpGt, "AMOUNT_USD", tt.raw)
			assert.Equal(t, tt.kept, kept)
			if tt.kept {
				assert.Equal(t, 1, s.Len())
			} else {
				assert.True(t, s.Empty(), "dropped clause must not constrain the spec")
			}
		})
	}
}

func TestAddMembershipDropsEmptySets(t *testing.T) {
	s := New()
	assert.False(t, s.AddMembership("STATUS", nil))
	assert.False(t, s.AddMembership("STATUS", []string{"", "  "}))
	assert.True(t, s.Empty())

	assert.True(t, s.AddMembership("STATUS", []string{" completed ", "", "pending"}))
	assert.Equal(t, 1, s.Len())
}

func TestBuilderChain(t *testing.T) {
	s := New().Gt("AMOUNT_USD", 10).Lt("AMOUNT_USD", 100).Eq("QUANTITY", 2)
	assert.Equal(t, 3, s.Len())
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "", New().String())

	s := New().Gt("AMOUNT_USD", 100)
	s.AddMembership("CURRENCY", []string{"USD", "EUR"})
	assert.Equal(t, "AMOUNT_USD gt 100 AND CURRENCY IN [USD EUR]", s.String())
}
