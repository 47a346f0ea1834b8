package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

// bleve starts its analysis workers at package init.
var ignoreBleveWorkers = goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker")

type fakeGateway struct {
	mu         sync.Mutex
	nextID     int64
	dashboards map[int64]*types.Dashboard
	reports    map[int64]*types.Report
	fetches    map[int64]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextID: 100,
		dashboards: map[int64]*types.Dashboard{
			7: {ID: 7, Name: "Depot", Layout: types.DefaultLayout(), Widgets: []types.Widget{
				{ID: 5, Type: types.WidgetKPICard, Title: "Active", Position: types.Position{W: 3, H: 2}},
			}},
		},
		reports: map[int64]*types.Report{
			4: {ID: 4, Name: "Trips", Dataset: "trips"},
		},
		fetches: map[int64]int{},
	}
}

func (f *fakeGateway) fetchCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func (f *fakeGateway) ListDashboards(context.Context, int) ([]types.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Dashboard, 0, len(f.dashboards))
	for _, d := range f.dashboards {
		out = append(out, *d.Clone())
	}
	return out, nil
}

func (f *fakeGateway) GetDashboard(_ context.Context, id int64) (*types.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dashboards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.Clone(), nil
}

func (f *fakeGateway) CreateDashboard(_ context.Context, in types.CreateDashboardInput) (*types.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &types.Dashboard{ID: f.nextID, Name: in.Name}, nil
}

func (f *fakeGateway) UpdateDashboard(_ context.Context, id int64, _ types.DashboardUpdate) (*types.Dashboard, error) {
	return &types.Dashboard{ID: id}, nil
}

func (f *fakeGateway) DeleteDashboard(context.Context, int64) error { return nil }

func (f *fakeGateway) CloneDashboard(_ context.Context, id int64, name string) (*types.Dashboard, error) {
	return &types.Dashboard{ID: id + 1000, Name: name}, nil
}

func (f *fakeGateway) AddWidget(_ context.Context, _ int64, w types.Widget) (*types.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	out := w.Clone()
	out.ID = f.nextID
	return &out, nil
}

func (f *fakeGateway) UpdateWidget(_ context.Context, _, _ int64, w types.Widget) (*types.Widget, error) {
	return &w, nil
}

func (f *fakeGateway) DeleteWidget(context.Context, int64, int64) error { return nil }

func (f *fakeGateway) GetWidgetData(_ context.Context, _, widgetID int64, _ types.WidgetType, _ types.WidgetDataQuery) (types.WidgetData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[widgetID]++
	return types.KPIData{Value: float64(widgetID)}, nil
}

func (f *fakeGateway) ListReports(context.Context) ([]types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Report, 0, len(f.reports))
	for _, r := range f.reports {
		out = append(out, *r.Clone())
	}
	return out, nil
}

func (f *fakeGateway) GetReport(_ context.Context, id int64) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (f *fakeGateway) CreateReport(_ context.Context, in types.CreateReportInput) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &types.Report{ID: f.nextID, Name: in.Name, Dataset: in.Dataset}, nil
}

func (f *fakeGateway) UpdateReport(_ context.Context, _ int64, r types.Report) (*types.Report, error) {
	return &r, nil
}

func (f *fakeGateway) DeleteReport(context.Context, int64) error { return nil }

func (f *fakeGateway) ExecuteReport(_ context.Context, _ int64, p types.ExecuteParams) (*types.ExecutionResult, error) {
	return &types.ExecutionResult{TotalRows: 10, Data: []map[string]any{{"page": p.Page}}}, nil
}

func (f *fakeGateway) ExportReport(_ context.Context, id int64, p types.ExportParams) (*types.ExecutionRecord, error) {
	return &types.ExecutionRecord{ID: 1, ReportID: id, Format: p.Format, Status: "pending"}, nil
}

func (f *fakeGateway) ListDatasets(context.Context) ([]types.Dataset, error) {
	return []types.Dataset{{Name: "trips"}}, nil
}

func TestOpenDashboard_RefreshesAndReconciles(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBleveWorkers)

	gw := newFakeGateway()
	s := New(zap.NewNop(), gw, Options{TickUnit: 10 * time.Millisecond})
	defer s.Close()
	ctx := context.Background()

	_, err := s.OpenDashboard(ctx, 7)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := s.Refresh().Data(5); return ok }, time.Second, 5*time.Millisecond)

	w, err := s.Dashboards().AddWidget(store.NewWidget{Type: types.WidgetGauge, Title: "Uptime", RefreshInterval: 1})
	require.NoError(t, err)
	require.Less(t, w.ID, int64(0))
	assert.Empty(t, s.Refresh().Scheduled(), "unsaved widgets get no timer")

	require.NoError(t, s.Dashboards().Save(ctx))
	cur := s.Dashboards().Current()
	permanent := cur.Widgets[1].ID
	assert.Equal(t, int64(101), permanent)

	require.Eventually(t, func() bool { return gw.fetchCount(permanent) >= 2 }, time.Second, 5*time.Millisecond,
		"reconciled widget is fetched and then auto-refreshed")
	assert.Equal(t, []int64{permanent}, s.Refresh().Scheduled())

	require.NoError(t, s.Dashboards().RemoveWidget(permanent))
	assert.Empty(t, s.Refresh().Scheduled())
	_, ok := s.Refresh().Data(permanent)
	assert.False(t, ok)
}

func TestWidgetEdit_RefetchesAfterSave(t *testing.T) {
	gw := newFakeGateway()
	s := New(zap.NewNop(), gw, Options{TickUnit: 10 * time.Millisecond})
	defer s.Close()
	ctx := context.Background()

	_, err := s.OpenDashboard(ctx, 7)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := s.Refresh().Data(5); return ok }, time.Second, 5*time.Millisecond)
	before := gw.fetchCount(5)

	title := "Active now"
	_, err = s.Dashboards().UpdateWidget(5, store.WidgetPatch{Title: &title})
	require.NoError(t, err)
	assert.Never(t, func() bool { return gw.fetchCount(5) > before }, 50*time.Millisecond, 5*time.Millisecond,
		"the gateway still serves the saved config")

	require.NoError(t, s.Dashboards().Save(ctx))
	assert.Eventually(t, func() bool { return gw.fetchCount(5) > before }, time.Second, 5*time.Millisecond)
}

func TestClose_StopsBackgroundWork(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBleveWorkers)

	gw := newFakeGateway()
	gw.dashboards[7].Widgets[0].RefreshInterval = 1
	s := New(zap.NewNop(), gw, Options{TickUnit: 5 * time.Millisecond, RefreshDebounce: time.Hour})

	_, err := s.OpenDashboard(context.Background(), 7)
	require.NoError(t, err)
	s.Refresh().SetFilter("region", "north")
	require.Eventually(t, func() bool { return gw.fetchCount(5) >= 2 }, time.Second, 5*time.Millisecond)

	s.Close()
	s.Close()
	_, err = s.OpenDashboard(context.Background(), 7)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCursorFollowsOpenReport(t *testing.T) {
	gw := newFakeGateway()
	s := New(zap.NewNop(), gw, Options{ReportPageSize: 50})
	defer s.Close()
	ctx := context.Background()

	_, err := s.Cursor()
	assert.ErrorIs(t, err, store.ErrNoCurrent)

	_, err = s.OpenReport(ctx, 4)
	require.NoError(t, err)
	c, err := s.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 50, c.State().PageSize)

	same, err := s.Cursor()
	require.NoError(t, err)
	assert.Same(t, c, same)

	_, err = s.Reports().NewDraft("Idle", "trips", "")
	require.NoError(t, err)
	_, err = s.Cursor()
	assert.ErrorIs(t, err, ErrReportNotSaved)

	require.NoError(t, s.Reports().Save(ctx))
	c, err = s.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(101), c.ReportID())

	res, err := c.Execute(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalRows)

	ds, err := s.Datasets(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}

func TestSearch(t *testing.T) {
	gw := newFakeGateway()
	gw.dashboards[8] = &types.Dashboard{ID: 8, Name: "Fuel usage", Description: "Depot fuel burn"}
	s := New(zap.NewNop(), gw, Options{})
	ctx := context.Background()

	hits, err := s.Search(ctx, "depot", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = s.Search(ctx, "trips", "report", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(4), hits[0].ID)

	s.Close()
	_, err = s.Search(ctx, "depot", "", 10)
	assert.ErrorIs(t, err, ErrClosed)
}
