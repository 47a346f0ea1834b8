package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FleetAI/fleet-console/pkg/types"
)

func TestNextTemporaryID_DistinctAndNegative(t *testing.T) {
	r := NewReconciler()
	assert.Equal(t, int64(-1), r.NextTemporaryID())
	assert.Equal(t, int64(-2), r.NextTemporaryID())

	const workers, perWorker = 8, 200
	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- r.NextTemporaryID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		require.Less(t, id, int64(0))
		require.False(t, seen[id], "duplicate temporary id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name        string
		widgets     []types.Widget
		tempID      int64
		permanentID int64
		wantErr     bool
		wantIDs     []int64
	}{
		{
			name:        "rewrites matching widget",
			widgets:     []types.Widget{{ID: 7}, {ID: -1}, {ID: -2}},
			tempID:      -1,
			permanentID: 101,
			wantIDs:     []int64{7, 101, -2},
		},
		{
			name:        "missing temporary id",
			widgets:     []types.Widget{{ID: -2}},
			tempID:      -1,
			permanentID: 101,
			wantErr:     true,
			wantIDs:     []int64{-2},
		},
		{
			name:        "non-temporary source id",
			widgets:     []types.Widget{{ID: 5}},
			tempID:      5,
			permanentID: 101,
			wantErr:     true,
			wantIDs:     []int64{5},
		},
		{
			name:        "gateway returned zero",
			widgets:     []types.Widget{{ID: -1}},
			tempID:      -1,
			permanentID: 0,
			wantErr:     true,
			wantIDs:     []int64{-1},
		},
		{
			name:        "permanent id collides",
			widgets:     []types.Widget{{ID: 101}, {ID: -1}},
			tempID:      -1,
			permanentID: 101,
			wantErr:     true,
			wantIDs:     []int64{101, -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewReconciler().Reconcile(tt.widgets, tt.tempID, tt.permanentID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			got := make([]int64, len(tt.widgets))
			for i, w := range tt.widgets {
				got[i] = w.ID
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}
