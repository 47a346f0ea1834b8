package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

type staticSource struct {
	mu sync.Mutex
	d  *types.Dashboard
}

func (s *staticSource) Current() *types.Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Clone()
}

func (s *staticSource) set(d *types.Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = d
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[int64]int
	queries []types.WidgetDataQuery
	fail    map[int64]error
	value   float64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[int64]int{}, fail: map[int64]error{}, value: 1}
}

func (f *fakeFetcher) GetWidgetData(_ context.Context, _, widgetID int64, _ types.WidgetType, q types.WidgetDataQuery) (types.WidgetData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[widgetID]++
	f.queries = append(f.queries, q)
	if err := f.fail[widgetID]; err != nil {
		return nil, err
	}
	return types.KPIData{Value: f.value}, nil
}

func (f *fakeFetcher) count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) setFail(id int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[id] = err
}

func (f *fakeFetcher) lastQuery() types.WidgetDataQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func kpi(id int64, interval int) types.Widget {
	return types.Widget{ID: id, Type: types.WidgetKPICard, Title: "kpi", Position: types.Position{W: 3, H: 2}, RefreshInterval: interval}
}

func newOrchestrator(t *testing.T, d *types.Dashboard, opts Options) (*Orchestrator, *fakeFetcher, *staticSource) {
	t.Helper()
	f := newFakeFetcher()
	src := &staticSource{d: d}
	o := New(zap.NewNop(), f, src, opts)
	t.Cleanup(o.Close)
	return o, f, src
}

func TestRefreshAll_IsolatesFailures(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0), kpi(2, 0), kpi(3, 0)}}
	o, f, _ := newOrchestrator(t, d, Options{})
	f.setFail(2, errors.New("query timeout"))

	sum := o.RefreshAll(context.Background())
	assert.Equal(t, []int64{1, 3}, sum.Succeeded)
	require.Len(t, sum.Failed, 1)
	assert.Contains(t, sum.Failed[2].Error(), "query timeout")

	_, ok := o.Data(1)
	assert.True(t, ok)
	_, ok = o.Data(2)
	assert.False(t, ok)
	assert.Len(t, o.Snapshot(), 2)
}

func TestRefreshOne_KeepsStaleDataOnFailure(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0)}}
	o, f, _ := newOrchestrator(t, d, Options{})
	ctx := context.Background()

	require.NoError(t, o.RefreshOne(ctx, 1))
	first, ok := o.Data(1)
	require.True(t, ok)

	f.setFail(1, errors.New("gateway down"))
	err := o.RefreshOne(ctx, 1)
	require.Error(t, err)

	after, ok := o.Data(1)
	require.True(t, ok)
	assert.Equal(t, first, after)
	assert.Error(t, o.LastError(1))

	f.setFail(1, nil)
	require.NoError(t, o.RefreshOne(ctx, 1))
	assert.NoError(t, o.LastError(1))
}

type gatedFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) GetWidgetData(_ context.Context, _, _ int64, _ types.WidgetType, _ types.WidgetDataQuery) (types.WidgetData, error) {
	g.entered <- struct{}{}
	<-g.release
	return types.KPIData{Value: 9}, nil
}

func TestRefreshAll_LeavesOutSupersededResults(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0)}}
	g := &gatedFetcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := New(zap.NewNop(), g, &staticSource{d: d}, Options{})
	defer o.Close()

	done := make(chan Summary, 1)
	go func() { done <- o.RefreshAll(context.Background()) }()
	<-g.entered
	o.Reset()
	close(g.release)

	sum := <-done
	assert.Empty(t, sum.Succeeded)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, []int64{1}, sum.Superseded)
	_, ok := o.Data(1)
	assert.False(t, ok, "discarded result is not stored")
}

func TestRefreshOne_ReportsSuperseded(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0)}}
	g := &gatedFetcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := New(zap.NewNop(), g, &staticSource{d: d}, Options{})
	defer o.Close()

	done := make(chan error, 1)
	go func() { done <- o.RefreshOne(context.Background(), 1) }()
	<-g.entered
	o.Reset()
	close(g.release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
}

func TestRefresh_SkipsUnsaved(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0), kpi(-1, 0)}}
	o, f, src := newOrchestrator(t, d, Options{})
	ctx := context.Background()

	sum := o.RefreshAll(ctx)
	assert.Equal(t, []int64{1}, sum.Succeeded)
	assert.Equal(t, []int64{-1}, sum.Skipped)
	assert.ErrorIs(t, o.RefreshOne(ctx, -1), ErrNotFetchable)
	assert.ErrorIs(t, o.RefreshOne(ctx, 42), ErrUnknownWidget)

	src.set(&types.Dashboard{ID: 0, Widgets: []types.Widget{kpi(1, 0)}})
	sum = o.RefreshAll(ctx)
	assert.Empty(t, sum.Succeeded)
	assert.Equal(t, 1, f.count(1), "draft dashboards are not fetched")

	src.set(nil)
	assert.ErrorIs(t, o.RefreshOne(ctx, 1), ErrNoDashboard)
}

func TestFilterChanges_AreDebounced(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0), kpi(2, 0)}}
	o, f, _ := newOrchestrator(t, d, Options{Debounce: 30 * time.Millisecond})

	o.SetFilter("region", "north")
	o.SetFilter("fuel", "ev")
	o.SetDateRange(&types.DateRange{Start: time.Unix(0, 0).UTC(), End: time.Unix(3600, 0).UTC()})

	require.Eventually(t, func() bool { return f.total() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.count(1))
	assert.Equal(t, 1, f.count(2))

	q := f.lastQuery()
	assert.Equal(t, "north", q.Filters["region"])
	assert.Equal(t, "ev", q.Filters["fuel"])
	require.NotNil(t, q.DateRange)

	o.ClearFilter("fuel")
	require.Eventually(t, func() bool { return f.total() == 4 }, time.Second, 5*time.Millisecond)
	filters, dr := o.Filters()
	assert.Equal(t, types.FilterSet{"region": "north"}, filters)
	assert.NotNil(t, dr)
}

func TestApply_TriggersOnce(t *testing.T) {
	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0)}}
	o, f, _ := newOrchestrator(t, d, Options{Debounce: 10 * time.Millisecond})

	o.Apply(types.FilterSet{"depot": "A"}, nil)
	require.Eventually(t, func() bool { return f.count(1) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.count(1))
	assert.Nil(t, f.lastQuery().DateRange)
}

func TestAutoRefreshTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 1), kpi(2, 0), kpi(-3, 1)}}
	f := newFakeFetcher()
	o := New(zap.NewNop(), f, &staticSource{d: d}, Options{TickUnit: 10 * time.Millisecond})

	o.Sync(d)
	assert.Equal(t, []int64{1}, o.Scheduled(), "only saved widgets with an interval get a timer")

	require.Eventually(t, func() bool { return f.count(1) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.count(2))

	o.Unschedule(1)
	assert.Empty(t, o.Scheduled())
	stopped := f.count(1)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, f.count(1), stopped+1, "at most an in-flight tick lands after unschedule")

	o.Schedule(2, 1)
	require.Eventually(t, func() bool { return f.count(2) >= 1 }, time.Second, 5*time.Millisecond)

	o.Close()
	assert.Empty(t, o.Scheduled())
}

func TestSync_ReschedulesOnIntervalChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 60), kpi(2, 60)}}
	o := New(zap.NewNop(), newFakeFetcher(), &staticSource{d: d}, Options{})
	defer o.Close()

	o.Sync(d)
	assert.Equal(t, []int64{1, 2}, o.Scheduled())

	o.Sync(&types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 30), kpi(2, 0), kpi(4, 10)}})
	assert.Equal(t, []int64{1, 4}, o.Scheduled())

	o.Reset()
	assert.Empty(t, o.Scheduled())
}

func TestLoad_RefreshesInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &types.Dashboard{ID: 7, Widgets: []types.Widget{kpi(1, 0), kpi(2, 0)}}
	f := newFakeFetcher()
	o := New(zap.NewNop(), f, &staticSource{d: d}, Options{})

	o.Load(d)
	require.Eventually(t, func() bool { return len(o.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	o.Close()
	o.Load(d)
	o.SetFilter("region", "south")
	assert.ErrorIs(t, o.RefreshOne(context.Background(), 1), ErrClosed)
}
