package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FleetAI/fleet-console/pkg/types"
)

var errGateway = errors.New("gateway unavailable")

type call struct {
	op          string
	dashboardID int64
	widgetID    int64
	title       string
}

// fakeGateway records calls and hands out sequential permanent ids.
type fakeGateway struct {
	mu         sync.Mutex
	calls      []call
	nextWidget int64
	nextDash   int64
	dashboards map[int64]*types.Dashboard
	reports    map[int64]*types.Report
	// fail maps "op" or "op:title" / "op:id" to an error to return.
	fail map[string]error
	// block, when set for an op, is received from before the op returns.
	block map[string]chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextWidget: 101,
		nextDash:   500,
		dashboards: make(map[int64]*types.Dashboard),
		reports:    make(map[int64]*types.Report),
		fail:       make(map[string]error),
		block:      make(map[string]chan struct{}),
	}
}

func (f *fakeGateway) record(c call, keys ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var err error
	for _, k := range keys {
		if e, ok := f.fail[k]; ok {
			err = e
			break
		}
	}
	ch := f.block[c.op]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return err
}

func (f *fakeGateway) setFail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, key)
		return
	}
	f.fail[key] = err
}

func (f *fakeGateway) callsOf(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGateway) ListDashboards(_ context.Context, _ int) ([]types.Dashboard, error) {
	if err := f.record(call{op: "list"}, "list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Dashboard
	for _, d := range f.dashboards {
		out = append(out, *d.Clone())
	}
	return out, nil
}

func (f *fakeGateway) GetDashboard(_ context.Context, id int64) (*types.Dashboard, error) {
	if err := f.record(call{op: "get", dashboardID: id}, "get"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dashboards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (f *fakeGateway) CreateDashboard(_ context.Context, in types.CreateDashboardInput) (*types.Dashboard, error) {
	if err := f.record(call{op: "create", title: in.Name}, "create"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDash++
	d := &types.Dashboard{ID: f.nextDash, Name: in.Name, Description: in.Description, Layout: types.DefaultLayout()}
	f.dashboards[d.ID] = d
	return d.Clone(), nil
}

func (f *fakeGateway) UpdateDashboard(_ context.Context, id int64, patch types.DashboardUpdate) (*types.Dashboard, error) {
	if err := f.record(call{op: "update", dashboardID: id}, "update"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dashboards[id]
	if !ok {
		d = &types.Dashboard{ID: id}
		f.dashboards[id] = d
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	return d.Clone(), nil
}

func (f *fakeGateway) DeleteDashboard(_ context.Context, id int64) error {
	if err := f.record(call{op: "delete", dashboardID: id}, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dashboards, id)
	return nil
}

func (f *fakeGateway) CloneDashboard(_ context.Context, id int64, newName string) (*types.Dashboard, error) {
	if err := f.record(call{op: "clone", dashboardID: id, title: newName}, "clone"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.dashboards[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.nextDash++
	c := src.Clone()
	c.ID = f.nextDash
	c.Name = newName
	f.dashboards[c.ID] = c
	return c.Clone(), nil
}

func (f *fakeGateway) AddWidget(_ context.Context, dashboardID int64, w types.Widget) (*types.Widget, error) {
	if err := f.record(call{op: "addWidget", dashboardID: dashboardID, title: w.Title}, "addWidget", "addWidget:"+w.Title); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := w.Clone()
	out.ID = f.nextWidget
	f.nextWidget++
	return &out, nil
}

func (f *fakeGateway) UpdateWidget(_ context.Context, dashboardID, widgetID int64, w types.Widget) (*types.Widget, error) {
	key := fmt.Sprintf("updateWidget:%d", widgetID)
	if err := f.record(call{op: "updateWidget", dashboardID: dashboardID, widgetID: widgetID, title: w.Title}, "updateWidget", key); err != nil {
		return nil, err
	}
	out := w.Clone()
	return &out, nil
}

func (f *fakeGateway) DeleteWidget(_ context.Context, dashboardID, widgetID int64) error {
	key := fmt.Sprintf("deleteWidget:%d", widgetID)
	return f.record(call{op: "deleteWidget", dashboardID: dashboardID, widgetID: widgetID}, "deleteWidget", key)
}

func (f *fakeGateway) ListReports(_ context.Context) ([]types.Report, error) {
	if err := f.record(call{op: "listReports"}, "listReports"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Report
	for _, r := range f.reports {
		out = append(out, *r.Clone())
	}
	return out, nil
}

func (f *fakeGateway) GetReport(_ context.Context, id int64) (*types.Report, error) {
	if err := f.record(call{op: "getReport", dashboardID: id}, "getReport"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (f *fakeGateway) CreateReport(_ context.Context, in types.CreateReportInput) (*types.Report, error) {
	if err := f.record(call{op: "createReport", title: in.Name}, "createReport"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDash++
	r := &types.Report{ID: f.nextDash, Name: in.Name, Dataset: in.Dataset, Description: in.Description, Config: in.Config.Clone()}
	f.reports[r.ID] = r
	return r.Clone(), nil
}

func (f *fakeGateway) UpdateReport(_ context.Context, id int64, r types.Report) (*types.Report, error) {
	if err := f.record(call{op: "updateReport", dashboardID: id}, "updateReport"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id] = r.Clone()
	return r.Clone(), nil
}

func (f *fakeGateway) DeleteReport(_ context.Context, id int64) error {
	if err := f.record(call{op: "deleteReport", dashboardID: id}, "deleteReport"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reports, id)
	return nil
}

// recordingListener captures notifications for assertions.
type recordingListener struct {
	NopListener
	mu         sync.Mutex
	loaded     int
	closed     int
	changed    []int64
	removed    []int64
	reconciled [][2]int64
	saved      []int64
}

func (l *recordingListener) DashboardLoaded(*types.Dashboard) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded++
}

func (l *recordingListener) DashboardClosed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
}

func (l *recordingListener) WidgetChanged(_ int64, w types.Widget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changed = append(l.changed, w.ID)
}

func (l *recordingListener) WidgetRemoved(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, id)
}

func (l *recordingListener) WidgetReconciled(_ int64, tempID int64, w types.Widget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconciled = append(l.reconciled, [2]int64{tempID, w.ID})
}

func (l *recordingListener) WidgetSaved(_ int64, w types.Widget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saved = append(l.saved, w.ID)
}
