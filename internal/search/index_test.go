package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

func TestSearch(t *testing.T) {
	idx, err := New(zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Reindex(
		[]types.Dashboard{
			{ID: 7, Name: "Depot utilisation", Description: "Vehicles parked per depot"},
			{ID: 8, Name: "Fuel spend"},
		},
		[]types.Report{
			{ID: 4, Name: "Monthly utilisation", Dataset: "vehicles"},
		},
	))

	hits, err := idx.Search("depot", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, KindDashboard, hits[0].Kind)
	assert.Equal(t, int64(7), hits[0].ID)
	assert.Equal(t, "Depot utilisation", hits[0].Name)

	hits, err = idx.Search("utilisation", KindReport, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(4), hits[0].ID)

	hits, err = idx.Search("Fue", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(8), hits[0].ID)

	_, err = idx.Search("  ", "", 10)
	assert.Error(t, err)
}

func TestReindexReplacesContent(t *testing.T) {
	idx, err := New(zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Reindex([]types.Dashboard{{ID: 1, Name: "Alpha"}}, nil))
	require.NoError(t, idx.Reindex([]types.Dashboard{{ID: 2, Name: "Beta"}}, nil))

	hits, err := idx.Search("alpha", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestParseDocID(t *testing.T) {
	kind, id, ok := parseDocID(docID(KindReport, 42))
	require.True(t, ok)
	assert.Equal(t, KindReport, kind)
	assert.Equal(t, int64(42), id)

	_, _, ok = parseDocID("garbage")
	assert.False(t, ok)
}
