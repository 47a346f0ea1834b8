package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/execution"
	"github.com/FleetAI/fleet-console/internal/identity"
	"github.com/FleetAI/fleet-console/internal/refresh"
	"github.com/FleetAI/fleet-console/internal/search"
	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrReportNotSaved = errors.New("report must be saved before it can be executed")
)

// Gateway is everything a session needs from the remote data gateway.
type Gateway interface {
	store.DashboardGateway
	store.ReportGateway
	refresh.Fetcher
	execution.Executor
	ListDatasets(ctx context.Context) ([]types.Dataset, error)
}

type Options struct {
	ListPageSize      int
	ReportPageSize    int
	UpdateConcurrency int
	RefreshDebounce   time.Duration
	MaxConcurrency    int
	// TickUnit scales widget refresh intervals; zero means one second.
	TickUnit time.Duration
}

// Session is one user's working context: the dashboard and report stores, the
// refresh orchestrator for the open dashboard and the execution cursor for the
// open report. It reacts to store changes to keep widget data and timers in
// sync.
type Session struct {
	logger     *zap.Logger
	gw         Gateway
	opts       Options
	dashboards *store.DashboardStore
	reports    *store.ReportStore
	refresh    *refresh.Orchestrator

	mu     sync.Mutex
	cursor *execution.Cursor
	index  *search.Index
	closed bool
}

func New(log *zap.Logger, gw Gateway, opts Options) *Session {
	s := &Session{logger: log, gw: gw, opts: opts}
	s.dashboards = store.NewDashboardStore(log, gw, identity.NewReconciler(), store.Options{
		PageSize:          opts.ListPageSize,
		UpdateConcurrency: opts.UpdateConcurrency,
		Listener:          s,
	})
	s.reports = store.NewReportStore(log, gw, s)
	s.refresh = refresh.New(log, gw, s.dashboards, refresh.Options{
		Debounce:       opts.RefreshDebounce,
		MaxConcurrency: opts.MaxConcurrency,
		TickUnit:       opts.TickUnit,
	})
	return s
}

func (s *Session) Dashboards() *store.DashboardStore { return s.dashboards }
func (s *Session) Reports() *store.ReportStore       { return s.reports }
func (s *Session) Refresh() *refresh.Orchestrator    { return s.refresh }

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// OpenDashboard loads a dashboard and starts refreshing its widgets.
func (s *Session) OpenDashboard(ctx context.Context, id int64) (*types.Dashboard, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.dashboards.LoadOne(ctx, id); err != nil {
		return nil, err
	}
	return s.dashboards.Current(), nil
}

// OpenReport loads a report into the builder.
func (s *Session) OpenReport(ctx context.Context, id int64) (*types.Report, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.reports.LoadOne(ctx, id); err != nil {
		return nil, err
	}
	return s.reports.Current(), nil
}

// Cursor returns the execution cursor of the open report, creating it on
// first use.
func (s *Session) Cursor() (*execution.Cursor, error) {
	r := s.reports.Current()
	if r == nil {
		return nil, store.ErrNoCurrent
	}
	if r.ID <= 0 {
		return nil, ErrReportNotSaved
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.cursor == nil || s.cursor.ReportID() != r.ID {
		s.cursor = execution.NewCursor(s.logger, s.gw, r.ID, s.opts.ReportPageSize)
	}
	return s.cursor, nil
}

func (s *Session) Datasets(ctx context.Context) ([]types.Dataset, error) {
	out, err := s.gw.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return out, nil
}

// Search reloads both lists, rebuilds the search index from them and runs
// text against it. A list that fails to load is searched as last loaded.
func (s *Session) Search(ctx context.Context, text, kind string, limit int) ([]search.Hit, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	dErr := s.dashboards.LoadList(ctx)
	rErr := s.reports.LoadList(ctx)
	if dErr != nil && rErr != nil {
		return nil, dErr
	}

	s.mu.Lock()
	if s.index == nil {
		idx, err := search.New(s.logger)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.index = idx
	}
	idx := s.index
	s.mu.Unlock()

	if err := idx.Reindex(s.dashboards.List(), s.reports.List()); err != nil {
		return nil, err
	}
	return idx.Search(text, kind, limit)
}

// Close stops every timer and waits for in-flight background refreshes.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cursor = nil
	idx := s.index
	s.index = nil
	s.mu.Unlock()

	s.refresh.Close()
	if idx != nil {
		if err := idx.Close(); err != nil {
			s.logger.Warn("Failed to close search index", zap.Error(err))
		}
	}
	s.logger.Debug("Session closed")
}

func (s *Session) DashboardLoaded(d *types.Dashboard) {
	s.refresh.Load(d)
}

func (s *Session) DashboardClosed() {
	s.refresh.Reset()
}

// WidgetChanged only reschedules the timer. The gateway keeps serving the saved
// config until the edit is saved, so the data is refetched in WidgetSaved.
func (s *Session) WidgetChanged(dashboardID int64, w types.Widget) {
	if dashboardID <= 0 || identity.IsTemporary(w.ID) {
		return
	}
	s.refresh.Schedule(w.ID, w.RefreshInterval)
}

func (s *Session) WidgetSaved(_ int64, w types.Widget) {
	s.refreshInBackground(w.ID)
}

func (s *Session) WidgetRemoved(widgetID int64) {
	s.refresh.Unschedule(widgetID)
}

// WidgetReconciled performs the first fetch of a widget that just got its
// permanent id.
func (s *Session) WidgetReconciled(_, _ int64, w types.Widget) {
	s.refresh.Schedule(w.ID, w.RefreshInterval)
	s.refreshInBackground(w.ID)
}

func (s *Session) refreshInBackground(widgetID int64) {
	s.refresh.Go(func(ctx context.Context) {
		// Errors are logged by the orchestrator and the previous data is kept.
		_ = s.refresh.RefreshOne(ctx, widgetID)
	})
}

func (s *Session) ReportLoaded(*types.Report) {
	s.mu.Lock()
	s.cursor = nil
	s.mu.Unlock()
}

func (s *Session) ReportClosed() {
	s.mu.Lock()
	s.cursor = nil
	s.mu.Unlock()
}

var _ store.Listener = (*Session)(nil)
