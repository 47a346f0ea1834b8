package paginate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name       string
		args       any
		wantLimit  int
		wantOffset int
	}{
		{name: "defaults for nil", args: nil, wantLimit: DefaultLimit, wantOffset: DefaultOffset},
		{name: "string values", args: map[string]any{"limit": "10", "offset": "20"}, wantLimit: 10, wantOffset: 20},
		{name: "number values", args: map[string]any{"limit": float64(5), "offset": float64(5)}, wantLimit: 5, wantOffset: 5},
		{name: "invalid values fall back", args: map[string]any{"limit": "-3", "offset": "abc"}, wantLimit: DefaultLimit, wantOffset: DefaultOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := ParseParams(tt.args)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestArray(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{3, 4}, Array(items, 2, 2))
	assert.Equal(t, []int{5}, Array(items, 4, 10))
	assert.Empty(t, Array(items, 5, 10))
	assert.Empty(t, Array(items, 0, 0))
}

func TestWrap(t *testing.T) {
	b, err := Wrap([]any{"a", "b"}, 5, 0, 2)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(b, &resp))
	assert.True(t, resp.Pagination.HasMore)
	assert.Equal(t, 2, resp.Pagination.NextOffset)

	b, err = Wrap([]any{"e"}, 5, 4, 2)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &resp))
	assert.False(t, resp.Pagination.HasMore)
	assert.Equal(t, -1, resp.Pagination.NextOffset)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 3, TotalPages(60, 25))
	assert.Equal(t, 2, TotalPages(60, 50))
	assert.Equal(t, 1, TotalPages(0, 25))
	assert.Equal(t, 4, TotalPages(100, 25))
}

func TestNormalizePageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NormalizePageSize(0))
	assert.Equal(t, 50, NormalizePageSize(50))
	assert.Equal(t, MaxPageSize, NormalizePageSize(5000))
}
