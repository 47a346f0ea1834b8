package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRange(t *testing.T) {
	d, err := ParseTimeRange("30m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	d, err = ParseTimeRange("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	_, err = ParseTimeRange("week")
	assert.Error(t, err)
}

func TestResolveDateRange(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	r, err := ResolveDateRange(map[string]any{}, now)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = ResolveDateRange(map[string]any{"timeRange": "2h", "start": "2020-01-01"}, now)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, now.Add(-2*time.Hour), r.Start)
	assert.Equal(t, now, r.End)

	r, err = ResolveDateRange(map[string]any{"start": "2026-04-01", "end": "2026-04-30T00:00:00Z"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), r.End)

	_, err = ResolveDateRange(map[string]any{"start": "2026-04-30", "end": "2026-04-01"}, now)
	assert.Error(t, err)

	_, err = ResolveDateRange(map[string]any{"start": "soon"}, now)
	assert.Error(t, err)
}
