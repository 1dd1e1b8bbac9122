package pagination

import (
	"fmt"
	"testing"

	"github.com/antoinevdp/datalake-api/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.Record{"ID": fmt.Sprintf("r%02d", i)}
	}
	return out
}

func TestPaginateBasics(t *testing.T) {
	p := New(10, 10)
	page, err := p.Paginate(records(25), 2, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 25, page.TotalCount)
	assert.Equal(t, 10, page.Offset)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrevious)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "r10", page.Items[0]["ID"])
	assert.Equal(t, "r19", page.Items[9]["ID"])
}

func TestPaginateClamping(t *testing.T) {
	p := New(10, 10)

	tests := []struct {
		name         string
		page, size   int
		wantPage     int
		wantSize     int
		wantLen      int
		wantTotalPgs int
	}{
		{"zero page means first", 0, 10, 1, 10, 10, 3},
		{"zero size means default", 1, 0, 1, 10, 10, 3},
		{"oversized clamps to cap", 1, 500, 1, 10, 10, 3},
		{"last partial page", 3, 10, 3, 10, 5, 3},
	}
	items := records(25)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := p.Paginate(items, tt.page, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantSize, page.PageSize)
			assert.Len(t, page.Items, tt.wantLen)
			assert.Equal(t, tt.wantTotalPgs, page.TotalPages)
		})
	}
}

func TestPaginatePastEndIsEmptyNotError(t *testing.T) {
	p := New(10, 10)
	page, err := p.Paginate(records(25), 99, 10)
	require.NoError(t, err)

	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, 99, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 25, page.TotalCount)
	assert.Equal(t, 980, page.Offset)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrevious)
}

func TestPaginateNegativeInputIsTheOnlyError(t *testing.T) {
	p := New(10, 10)

	_, err := p.Paginate(records(5), -1, 10)
	assert.ErrorIs(t, err, ErrInvalidPage)

	_, err = p.Paginate(records(5), 1, -5)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestPaginateEmptySet(t *testing.T) {
	p := New(10, 10)
	page, err := p.Paginate(nil, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, page.TotalPages)
	assert.Equal(t, 0, page.TotalCount)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrevious)
}

func TestExactPageBoundary(t *testing.T) {
	p := New(10, 10)
	page, err := p.Paginate(records(20), 2, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 10)
	assert.False(t, page.HasNext)
}

func TestNewNormalizesLimits(t *testing.T) {
	p := New(0, 0)
	assert.Equal(t, DefaultPageSize, p.defaultSize)
	assert.Equal(t, DefaultMaxPageSize, p.maxSize)

	p = New(50, 10)
	assert.Equal(t, 10, p.defaultSize, "default may not exceed the cap")
}
