package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []types.ExecuteParams
	gates   map[int]chan struct{}
	fail    error
	exports int64
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{gates: map[int]chan struct{}{}}
}

func (f *fakeExecutor) ExecuteReport(ctx context.Context, _ int64, p types.ExecuteParams) (*types.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	gate := f.gates[p.Page]
	err := f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.ExecutionResult{
		Columns:   []types.Column{{Field: "plate"}},
		Data:      []map[string]any{{"page": p.Page}},
		TotalRows: 120,
	}, nil
}

func (f *fakeExecutor) ExportReport(_ context.Context, reportID int64, p types.ExportParams) (*types.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports++
	return &types.ExecutionRecord{ID: f.exports, ReportID: reportID, Status: "pending", Format: p.Format}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) lastCall() types.ExecuteParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestExecute_DefaultsToFirstPage(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 0)

	res, err := c.Execute(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data[0]["page"])
	assert.Equal(t, types.ExecuteParams{Page: 1, PageSize: 25}, ex.lastCall())

	st := c.State()
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, 25, st.PageSize)
	assert.Equal(t, 120, st.TotalRows)
	assert.Equal(t, 5, st.TotalPages)
	assert.True(t, st.HasResult)
}

func TestExecute_LastWriteWins(t *testing.T) {
	ex := newFakeExecutor()
	slow := make(chan struct{})
	ex.gates[2] = slow
	c := NewCursor(zap.NewNop(), ex, 4, 25)

	done := make(chan error, 1)
	go func() {
		_, err := c.SetPage(context.Background(), 2)
		done <- err
	}()
	require.Eventually(t, func() bool { return ex.callCount() == 1 }, time.Second, time.Millisecond)

	res, err := c.SetPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Data[0]["page"])

	close(slow)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	assert.Equal(t, 3, c.Result().Data[0]["page"], "late page 2 response is discarded")
	assert.Equal(t, 3, c.State().Page)
}

func TestExecute_FailureKeepsPreviousResult(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 25)
	ctx := context.Background()

	_, err := c.Execute(ctx, 1)
	require.NoError(t, err)

	ex.fail = errors.New("execution timeout")
	_, err = c.SetPage(ctx, 2)
	require.Error(t, err)
	assert.Error(t, c.LastError())

	res := c.Result()
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Data[0]["page"])
}

func TestSetPageSize_ResetsToFirstPage(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 25)
	ctx := context.Background()

	_, err := c.SetPage(ctx, 3)
	require.NoError(t, err)

	_, err = c.SetPageSize(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, types.ExecuteParams{Page: 1, PageSize: 50}, ex.lastCall())

	st := c.State()
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, 50, st.PageSize)
	assert.Equal(t, 3, st.TotalPages)
}

func TestResize_DoesNotExecute(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 25)
	ctx := context.Background()

	_, err := c.SetPage(ctx, 2)
	require.NoError(t, err)

	c.Resize(10)
	assert.Equal(t, 1, ex.callCount())

	_, err = c.SetParameters(ctx, map[string]any{"depot": "north"})
	require.NoError(t, err)
	call := ex.lastCall()
	assert.Equal(t, 1, call.Page)
	assert.Equal(t, 10, call.PageSize)
}

func TestSetParameters_ResetsToFirstPage(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 25)
	ctx := context.Background()

	_, err := c.SetPage(ctx, 4)
	require.NoError(t, err)

	params := map[string]any{"region": "north"}
	_, err = c.SetParameters(ctx, params)
	require.NoError(t, err)
	params["region"] = "mutated"

	call := ex.lastCall()
	assert.Equal(t, 1, call.Page)
	assert.Equal(t, "north", call.Parameters["region"])
	assert.Equal(t, "north", c.State().Parameters["region"])
}

func TestExport(t *testing.T) {
	ex := newFakeExecutor()
	c := NewCursor(zap.NewNop(), ex, 4, 25)
	ctx := context.Background()

	_, err := c.Export(ctx, "docx")
	assert.Error(t, err)

	first, err := c.Export(ctx, types.ExportCSV)
	require.NoError(t, err)
	second, err := c.Export(ctx, types.ExportPDF)
	require.NoError(t, err)

	execs := c.Executions()
	require.Len(t, execs, 2)
	assert.Equal(t, second.ID, execs[0].ID, "most recent export first")
	assert.Equal(t, first.ID, execs[1].ID)

	assert.Nil(t, c.Result(), "export does not produce a displayed result")
	assert.Equal(t, 0, ex.callCount())
}
