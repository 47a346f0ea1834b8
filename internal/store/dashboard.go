package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FleetAI/fleet-console/internal/identity"
	"github.com/FleetAI/fleet-console/pkg/dashboard"
	"github.com/FleetAI/fleet-console/pkg/types"
)

const (
	defaultListPageSize      = 100
	defaultUpdateConcurrency = 4
)

type syncState int

const (
	stateClean syncState = iota
	// statePending widgets exist only locally and are created on save.
	statePending
	// stateModified widgets are persisted and have unsaved edits.
	stateModified
)

type widgetState struct {
	sync syncState
	rev  uint64
}

type Options struct {
	// PageSize is passed to list calls.
	PageSize int
	// UpdateConcurrency bounds parallel widget updates and deletions during save.
	UpdateConcurrency int
	Listener          Listener
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultListPageSize
	}
	if o.UpdateConcurrency <= 0 {
		o.UpdateConcurrency = defaultUpdateConcurrency
	}
	if o.Listener == nil {
		o.Listener = NopListener{}
	}
	return o
}

// DashboardPatch lists the metadata fields to change; nil fields are kept.
type DashboardPatch struct {
	Name        *string
	Description *string
	Layout      *types.LayoutConfig
	IsShared    *bool
	IsDefault   *bool
}

// WidgetPatch lists the widget fields to change; nil fields are kept.
type WidgetPatch struct {
	Type            *types.WidgetType
	Title           *string
	Position        *types.Position
	Config          *types.WidgetConfig
	RefreshInterval *int
}

// NewWidget describes a widget to add. Empty fields are filled from the
// widget catalog entry for Type.
type NewWidget struct {
	Type            types.WidgetType
	Title           string
	Position        *types.Position
	Config          *types.WidgetConfig
	RefreshInterval int
}

// DashboardStore owns the dashboard list and the dashboard currently open for
// viewing or editing. All edits are local until Save.
type DashboardStore struct {
	logger   *zap.Logger
	gw       DashboardGateway
	ids      *identity.Reconciler
	opts     Options
	tracer   trace.Tracer
	listener Listener

	mu        sync.Mutex
	list      []types.Dashboard
	current   *types.Dashboard
	widgets   map[int64]*widgetState
	removed   map[int64]struct{}
	metaDirty bool
	metaRev   uint64
	state     entityState
}

func NewDashboardStore(log *zap.Logger, gw DashboardGateway, ids *identity.Reconciler, opts Options) *DashboardStore {
	opts = opts.withDefaults()
	return &DashboardStore{
		logger:   log,
		gw:       gw,
		ids:      ids,
		opts:     opts,
		tracer:   otel.Tracer("github.com/FleetAI/fleet-console/internal/store"),
		listener: opts.Listener,
		widgets:  make(map[int64]*widgetState),
		removed:  make(map[int64]struct{}),
	}
}

// SetListener replaces the change listener. It is meant to be called once
// during wiring, before the store is used.
func (s *DashboardStore) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// LoadList replaces the dashboard list. On failure the previous list is kept.
func (s *DashboardStore) LoadList(ctx context.Context) error {
	list, err := s.gw.ListDashboards(ctx, s.opts.PageSize)
	if err != nil {
		s.logger.Error("Failed to load dashboards", zap.Error(err))
		return fmt.Errorf("failed to load dashboards: %w", err)
	}

	s.mu.Lock()
	s.list = list
	s.mu.Unlock()

	s.logger.Debug("Loaded dashboards", zap.Int("count", len(list)))
	return nil
}

// List returns a copy of the dashboard list.
func (s *DashboardStore) List() []types.Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Dashboard, len(s.list))
	for i := range s.list {
		out[i] = *s.list[i].Clone()
	}
	return out
}

// LoadOne fetches a dashboard and makes it current with no unsaved changes.
func (s *DashboardStore) LoadOne(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid dashboard id %d", id)
	}
	d, err := s.gw.GetDashboard(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load dashboard", zap.Int64("dashboard_id", id), zap.Error(err))
		return fmt.Errorf("failed to load dashboard %d: %w", id, err)
	}

	s.mu.Lock()
	s.open(d.Clone())
	loaded := s.current.Clone()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Debug("Opened dashboard", zap.Int64("dashboard_id", id), zap.Int("widgets", len(loaded.Widgets)))
	listener.DashboardLoaded(loaded)
	return nil
}

// NewDraft opens a local dashboard with id 0. Save creates it on the gateway.
func (s *DashboardStore) NewDraft(name, description string) (*types.Dashboard, error) {
	d := &types.Dashboard{Name: name, Description: description, Layout: types.DefaultLayout()}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.open(d)
	s.metaDirty = true
	s.metaRev = s.state.markDirty()
	opened := s.current.Clone()
	listener := s.listener
	s.mu.Unlock()

	listener.DashboardLoaded(opened.Clone())
	return opened, nil
}

// open replaces the current dashboard. Callers hold s.mu.
func (s *DashboardStore) open(d *types.Dashboard) {
	if d.Layout == (types.LayoutConfig{}) {
		d.Layout = types.DefaultLayout()
	}
	s.current = d
	s.widgets = make(map[int64]*widgetState, len(d.Widgets))
	for _, w := range d.Widgets {
		s.widgets[w.ID] = &widgetState{sync: stateClean}
	}
	s.removed = make(map[int64]struct{})
	s.metaDirty = false
	s.state.reset()
}

// Close drops the current dashboard without saving.
func (s *DashboardStore) Close() {
	s.mu.Lock()
	hadCurrent := s.current != nil
	s.current = nil
	s.widgets = make(map[int64]*widgetState)
	s.removed = make(map[int64]struct{})
	s.metaDirty = false
	s.state.reset()
	listener := s.listener
	s.mu.Unlock()

	if hadCurrent {
		listener.DashboardClosed()
	}
}

// Current returns a copy of the open dashboard, or nil.
func (s *DashboardStore) Current() *types.Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Dirty reports whether the open dashboard has unsaved edits.
func (s *DashboardStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.dirty
}

// Widget returns a copy of one widget of the open dashboard.
func (s *DashboardStore) Widget(id int64) (types.Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.Widget{}, false
	}
	idx := s.current.WidgetIndex(id)
	if idx < 0 {
		return types.Widget{}, false
	}
	return s.current.Widgets[idx].Clone(), true
}

// Create asks the gateway for a new empty dashboard and appends it to the list.
// The new dashboard is not opened.
func (s *DashboardStore) Create(ctx context.Context, name, description string) (*types.Dashboard, error) {
	if name == "" {
		return nil, errors.New("dashboard name is required")
	}
	d, err := s.gw.CreateDashboard(ctx, types.CreateDashboardInput{Name: name, Description: description})
	if err != nil {
		s.logger.Error("Failed to create dashboard", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to create dashboard: %w", err)
	}

	s.mu.Lock()
	s.list = append(s.list, *d.Clone())
	s.mu.Unlock()
	return d.Clone(), nil
}

// Mutate applies a metadata patch to the open dashboard.
func (s *DashboardStore) Mutate(p DashboardPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoCurrent
	}

	next := *s.current
	next.Widgets = nil
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Layout != nil {
		next.Layout = *p.Layout
	}
	if p.IsShared != nil {
		next.IsShared = *p.IsShared
	}
	if p.IsDefault != nil {
		next.IsDefault = *p.IsDefault
	}
	if err := next.Validate(); err != nil {
		return err
	}

	next.Widgets = s.current.Widgets
	*s.current = next
	s.metaDirty = true
	s.metaRev = s.state.markDirty()
	return nil
}

// AddWidget appends a widget with a temporary id. Missing title, size and
// config come from the widget catalog; a missing position takes the first
// free slot.
func (s *DashboardStore) AddWidget(spec NewWidget) (types.Widget, error) {
	tmpl, ok := dashboard.Lookup(spec.Type)
	if !ok {
		return types.Widget{}, fmt.Errorf("unknown widget type %q", spec.Type)
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return types.Widget{}, ErrNoCurrent
	}

	w := types.Widget{
		Type:            spec.Type,
		Title:           spec.Title,
		Config:          tmpl.Config,
		RefreshInterval: spec.RefreshInterval,
	}
	if w.Title == "" {
		w.Title = tmpl.Name
	}
	if spec.Config != nil {
		w.Config = *spec.Config
	}
	if spec.Position != nil {
		w.Position = *spec.Position
	} else {
		occupied := make([]types.Position, len(s.current.Widgets))
		for i, existing := range s.current.Widgets {
			occupied[i] = existing.Position
		}
		w.Position = dashboard.NextPosition(occupied, s.current.Layout.Columns, tmpl.Width, tmpl.Height)
	}
	if err := s.checkWidget(&w, spec.Position != nil); err != nil {
		s.mu.Unlock()
		return types.Widget{}, err
	}

	w.ID = s.ids.NextTemporaryID()
	s.current.Widgets = append(s.current.Widgets, w)
	rev := s.state.markDirty()
	s.widgets[w.ID] = &widgetState{sync: statePending, rev: rev}
	dashboardID := s.current.ID
	listener := s.listener
	s.mu.Unlock()

	listener.WidgetChanged(dashboardID, w.Clone())
	return w.Clone(), nil
}

// AddWidgetFromCatalog adds a widget using only catalog defaults.
func (s *DashboardStore) AddWidgetFromCatalog(t types.WidgetType) (types.Widget, error) {
	return s.AddWidget(NewWidget{Type: t})
}

// checkWidget validates a widget against the open dashboard. A position chosen
// by the caller must also stay clear of the other widgets. Callers hold s.mu.
func (s *DashboardStore) checkWidget(w *types.Widget, placed bool) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := dashboard.CheckPosition(w.Position, s.current.Layout.Columns); err != nil {
		return err
	}
	if !placed {
		return nil
	}
	return dashboard.CheckOverlap(*w, s.current.Widgets)
}

// UpdateWidget applies a patch to one widget of the open dashboard.
func (s *DashboardStore) UpdateWidget(id int64, p WidgetPatch) (types.Widget, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return types.Widget{}, ErrNoCurrent
	}
	idx := s.current.WidgetIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return types.Widget{}, fmt.Errorf("%w: %d", ErrWidgetNotFound, id)
	}

	w := s.current.Widgets[idx].Clone()
	if p.Type != nil {
		w.Type = *p.Type
	}
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.Position != nil {
		w.Position = *p.Position
	}
	if p.Config != nil {
		w.Config = *p.Config
	}
	if p.RefreshInterval != nil {
		w.RefreshInterval = *p.RefreshInterval
	}
	if err := s.checkWidget(&w, p.Position != nil); err != nil {
		s.mu.Unlock()
		return types.Widget{}, err
	}

	s.current.Widgets[idx] = w
	rev := s.state.markDirty()
	ws := s.widgets[id]
	if ws == nil {
		ws = &widgetState{sync: stateModified}
		s.widgets[id] = ws
	}
	if ws.sync == stateClean {
		ws.sync = stateModified
	}
	ws.rev = rev
	dashboardID := s.current.ID
	listener := s.listener
	s.mu.Unlock()

	listener.WidgetChanged(dashboardID, w.Clone())
	return w.Clone(), nil
}

// SetWidgetPosition moves or resizes one widget.
func (s *DashboardStore) SetWidgetPosition(id int64, pos types.Position) error {
	_, err := s.UpdateWidget(id, WidgetPatch{Position: &pos})
	return err
}

// RemoveWidget drops a widget from the open dashboard immediately. Persisted
// widgets are deleted on the gateway during the next Save.
func (s *DashboardStore) RemoveWidget(id int64) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrent
	}
	idx := s.current.WidgetIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrWidgetNotFound, id)
	}

	s.current.Widgets = append(s.current.Widgets[:idx:idx], s.current.Widgets[idx+1:]...)
	if ws := s.widgets[id]; ws == nil || ws.sync != statePending {
		s.removed[id] = struct{}{}
	}
	delete(s.widgets, id)
	s.state.markDirty()
	listener := s.listener
	s.mu.Unlock()

	listener.WidgetRemoved(id)
	return nil
}

// Delete removes a dashboard on the gateway, then locally. The open dashboard
// is closed when it is the one deleted.
func (s *DashboardStore) Delete(ctx context.Context, id int64) error {
	if err := s.gw.DeleteDashboard(ctx, id); err != nil {
		s.logger.Error("Failed to delete dashboard", zap.Int64("dashboard_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete dashboard %d: %w", id, err)
	}

	s.mu.Lock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			break
		}
	}
	wasCurrent := s.current != nil && s.current.ID == id
	s.mu.Unlock()

	if wasCurrent {
		s.Close()
	}
	return nil
}

// Clone asks the gateway for a server-side deep copy and appends it to the list.
func (s *DashboardStore) Clone(ctx context.Context, id int64, newName string) (*types.Dashboard, error) {
	if newName == "" {
		return nil, errors.New("clone name is required")
	}
	d, err := s.gw.CloneDashboard(ctx, id, newName)
	if err != nil {
		s.logger.Error("Failed to clone dashboard", zap.Int64("dashboard_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to clone dashboard %d: %w", id, err)
	}

	s.mu.Lock()
	s.list = append(s.list, *d.Clone())
	s.mu.Unlock()
	return d.Clone(), nil
}

// savePlan is the snapshot of work a Save performs.
type savePlan struct {
	ticket      saveTicket
	dashboardID int64
	meta        types.Dashboard
	metaDirty   bool
	metaRev     uint64
	deletes     []int64
	creates     []types.Widget
	updates     []types.Widget
}

// Save persists the open dashboard: metadata first, then widget deletions,
// creations (in collection order) and updates. Sub-operations that succeed
// are kept even when others fail, so calling Save again only retries what is
// still unsaved. The dirty flag is cleared only on full success.
func (s *DashboardStore) Save(ctx context.Context) error {
	plan, err := s.planSave()
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "dashboard.save", trace.WithAttributes(
		attribute.Int64("dashboard.id", plan.dashboardID),
		attribute.Int("widgets.create", len(plan.creates)),
		attribute.Int("widgets.update", len(plan.updates)),
		attribute.Int("widgets.delete", len(plan.deletes)),
	))
	defer span.End()

	err = s.runSave(ctx, &plan)

	s.mu.Lock()
	s.state.finishSave(plan.ticket, err == nil)
	if err == nil && s.state.sameEntity(plan.ticket) && s.current != nil {
		s.upsertListEntry(s.current)
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Dashboard save failed", zap.Int64("dashboard_id", plan.dashboardID), zap.Error(err))
		return err
	}
	s.logger.Info("Dashboard saved",
		zap.Int64("dashboard_id", plan.dashboardID),
		zap.Int("created", len(plan.creates)),
		zap.Int("updated", len(plan.updates)),
		zap.Int("deleted", len(plan.deletes)))
	return nil
}

func (s *DashboardStore) planSave() (savePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return savePlan{}, ErrNoCurrent
	}
	ticket, err := s.state.beginSave()
	if err != nil {
		return savePlan{}, err
	}

	plan := savePlan{
		ticket:      ticket,
		dashboardID: s.current.ID,
		meta:        *s.current,
		metaDirty:   s.metaDirty || s.current.ID == 0,
		metaRev:     s.metaRev,
	}
	plan.meta.Widgets = nil
	for _, w := range s.current.Widgets {
		ws := s.widgets[w.ID]
		if ws == nil {
			continue
		}
		switch ws.sync {
		case statePending:
			plan.creates = append(plan.creates, w.Clone())
		case stateModified:
			plan.updates = append(plan.updates, w.Clone())
		}
	}
	for id := range s.removed {
		plan.deletes = append(plan.deletes, id)
	}
	sort.Slice(plan.deletes, func(i, j int) bool { return plan.deletes[i] < plan.deletes[j] })
	return plan, nil
}

var errEntityChanged = errors.New("open entity changed during save")

func (s *DashboardStore) runSave(ctx context.Context, plan *savePlan) error {
	if err := s.saveMetadata(ctx, plan); err != nil {
		return err
	}

	var errs errorCollector
	s.deleteWidgets(ctx, plan, &errs)
	if err := s.createWidgets(ctx, plan, &errs); err != nil {
		errs.add(err)
	}
	s.updateWidgets(ctx, plan, &errs)

	if err := errs.err(); err != nil {
		return fmt.Errorf("dashboard %d saved partially: %w", plan.dashboardID, err)
	}
	return nil
}

func (s *DashboardStore) saveMetadata(ctx context.Context, plan *savePlan) error {
	if plan.dashboardID == 0 {
		created, err := s.gw.CreateDashboard(ctx, types.CreateDashboardInput{
			Name:        plan.meta.Name,
			Description: plan.meta.Description,
		})
		if err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}

		s.mu.Lock()
		if !s.state.sameEntity(plan.ticket) {
			s.mu.Unlock()
			return errEntityChanged
		}
		s.current.ID = created.ID
		s.current.CreatedAt = created.CreatedAt
		s.mu.Unlock()
		plan.dashboardID = created.ID
	}

	if !plan.metaDirty {
		return nil
	}

	_, err := s.gw.UpdateDashboard(ctx, plan.dashboardID, types.DashboardUpdate{
		Name:        &plan.meta.Name,
		Description: &plan.meta.Description,
		Layout:      &plan.meta.Layout,
		IsShared:    &plan.meta.IsShared,
		IsDefault:   &plan.meta.IsDefault,
	})
	if err != nil {
		return fmt.Errorf("failed to save dashboard %d metadata: %w", plan.dashboardID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.sameEntity(plan.ticket) {
		return errEntityChanged
	}
	if s.metaRev == plan.metaRev {
		s.metaDirty = false
	}
	return nil
}

func (s *DashboardStore) deleteWidgets(ctx context.Context, plan *savePlan, errs *errorCollector) {
	var g errgroup.Group
	g.SetLimit(s.opts.UpdateConcurrency)
	for _, id := range plan.deletes {
		g.Go(func() error {
			if err := s.gw.DeleteWidget(ctx, plan.dashboardID, id); err != nil {
				errs.add(fmt.Errorf("failed to delete widget %d: %w", id, err))
				return nil
			}
			s.mu.Lock()
			if s.state.sameEntity(plan.ticket) {
				delete(s.removed, id)
			}
			s.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// createWidgets persists pending widgets one at a time in collection order and
// reconciles each temporary id as soon as its create succeeds.
func (s *DashboardStore) createWidgets(ctx context.Context, plan *savePlan, errs *errorCollector) error {
	for _, w := range plan.creates {
		created, err := s.gw.AddWidget(ctx, plan.dashboardID, w)
		if err != nil {
			errs.add(fmt.Errorf("failed to create widget %q (%d): %w", w.Title, w.ID, err))
			continue
		}

		s.mu.Lock()
		if !s.state.sameEntity(plan.ticket) {
			s.mu.Unlock()
			return errEntityChanged
		}
		if s.current.WidgetIndex(w.ID) < 0 {
			// Removed while the create was in flight: delete it on the next save.
			s.removed[created.ID] = struct{}{}
			s.state.dirty = true
			s.mu.Unlock()
			continue
		}
		if err := s.ids.Reconcile(s.current.Widgets, w.ID, created.ID); err != nil {
			s.mu.Unlock()
			errs.add(err)
			continue
		}
		ws := s.widgets[w.ID]
		delete(s.widgets, w.ID)
		if ws.rev > plan.ticket.rev {
			ws.sync = stateModified
		} else {
			ws.sync = stateClean
		}
		s.widgets[created.ID] = ws
		reconciled := s.current.Widgets[s.current.WidgetIndex(created.ID)].Clone()
		listener := s.listener
		s.mu.Unlock()

		s.logger.Debug("Widget persisted", zap.Int64("temporary_id", w.ID), zap.Int64("widget_id", created.ID))
		listener.WidgetReconciled(plan.dashboardID, w.ID, reconciled)
	}
	return nil
}

func (s *DashboardStore) updateWidgets(ctx context.Context, plan *savePlan, errs *errorCollector) {
	var g errgroup.Group
	g.SetLimit(s.opts.UpdateConcurrency)
	for _, w := range plan.updates {
		g.Go(func() error {
			if _, err := s.gw.UpdateWidget(ctx, plan.dashboardID, w.ID, w); err != nil {
				errs.add(fmt.Errorf("failed to update widget %q (%d): %w", w.Title, w.ID, err))
				return nil
			}
			s.mu.Lock()
			if !s.state.sameEntity(plan.ticket) || s.current.WidgetIndex(w.ID) < 0 {
				s.mu.Unlock()
				return nil
			}
			if ws := s.widgets[w.ID]; ws != nil && ws.rev <= plan.ticket.rev {
				ws.sync = stateClean
			}
			listener := s.listener
			s.mu.Unlock()

			listener.WidgetSaved(plan.dashboardID, w)
			return nil
		})
	}
	_ = g.Wait()
}

// upsertListEntry refreshes the list entry for d. Callers hold s.mu.
func (s *DashboardStore) upsertListEntry(d *types.Dashboard) {
	entry := *d.Clone()
	for i := range s.list {
		if s.list[i].ID == d.ID {
			s.list[i] = entry
			return
		}
	}
	s.list = append(s.list, entry)
}

// PendingChanges reports how many widgets would be created, updated and
// deleted by the next Save.
func (s *DashboardStore) PendingChanges() (creates, updates, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.widgets {
		switch ws.sync {
		case statePending:
			creates++
		case stateModified:
			updates++
		}
	}
	return creates, updates, len(s.removed)
}
