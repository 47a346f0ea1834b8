package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FleetAI/fleet-console/pkg/types"
)

const (
	DefaultDebounce       = 150 * time.Millisecond
	defaultMaxConcurrency = 6
)

var (
	ErrNoDashboard   = errors.New("no dashboard is open")
	ErrUnknownWidget = errors.New("widget not on the open dashboard")
	ErrClosed        = errors.New("orchestrator closed")
	// ErrSuperseded is returned by a fetch whose result was discarded because a
	// newer fetch or a reset happened while it was in flight.
	ErrSuperseded = errors.New("widget refresh superseded")
)

// ErrNotFetchable is returned for widgets or dashboards that have not been
// saved yet and therefore have no data on the gateway.
var ErrNotFetchable = errors.New("widget is not saved")

// Fetcher loads one widget's data from the gateway.
type Fetcher interface {
	GetWidgetData(ctx context.Context, dashboardID, widgetID int64, widgetType types.WidgetType, q types.WidgetDataQuery) (types.WidgetData, error)
}

// Source supplies the dashboard whose widgets are refreshed.
type Source interface {
	Current() *types.Dashboard
}

type Options struct {
	// Debounce is the window in which filter and date range changes are
	// coalesced into one refresh.
	Debounce time.Duration
	// MaxConcurrency bounds parallel widget fetches in RefreshAll.
	MaxConcurrency int
	// TickUnit is the duration of one unit of Widget.RefreshInterval.
	TickUnit time.Duration
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.TickUnit <= 0 {
		o.TickUnit = time.Second
	}
	return o
}

// Entry is the last successful result for one widget.
type Entry struct {
	Data      types.WidgetData
	FetchedAt time.Time
}

// Summary reports the outcome of a RefreshAll batch.
type Summary struct {
	Succeeded []int64
	Failed    map[int64]error
	// Skipped lists widgets without a permanent id.
	Skipped []int64
	// Superseded lists widgets whose result was replaced by a newer fetch.
	Superseded []int64
}

type ticker struct {
	interval int
	cancel   context.CancelFunc
}

// Orchestrator owns widget data for the open dashboard: on-demand and
// fan-out refreshes, per-widget auto-refresh timers, and debounced refreshes
// after filter changes.
type Orchestrator struct {
	logger   *zap.Logger
	fetcher  Fetcher
	source   Source
	opts     Options
	tracer   trace.Tracer
	failures metric.Int64Counter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	gen       uint64
	filters   types.FilterSet
	dateRange *types.DateRange
	data      map[int64]Entry
	lastErr   map[int64]error
	seq       map[int64]uint64
	tickers   map[int64]*ticker
	debounce  *time.Timer
}

func New(log *zap.Logger, fetcher Fetcher, source Source, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	meter := otel.Meter("github.com/FleetAI/fleet-console/internal/refresh")
	failures, err := meter.Int64Counter("fleet.widget.refresh.failures",
		metric.WithDescription("Widget data fetches that failed and kept the previous result"))
	if err != nil {
		log.Warn("Failed to create refresh failure counter", zap.Error(err))
		failures, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}

	return &Orchestrator{
		logger:   log,
		fetcher:  fetcher,
		source:   source,
		opts:     opts.withDefaults(),
		tracer:   otel.Tracer("github.com/FleetAI/fleet-console/internal/refresh"),
		failures: failures,
		ctx:      ctx,
		cancel:   cancel,
		filters:  types.FilterSet{},
		data:     make(map[int64]Entry),
		lastErr:  make(map[int64]error),
		seq:      make(map[int64]uint64),
		tickers:  make(map[int64]*ticker),
	}
}

// RefreshOne fetches one widget with the current filters and date range. On
// success the result replaces the stored entry; on failure the previous entry
// is kept and the error is returned.
func (o *Orchestrator) RefreshOne(ctx context.Context, widgetID int64) error {
	d := o.source.Current()
	if d == nil {
		return ErrNoDashboard
	}
	idx := d.WidgetIndex(widgetID)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownWidget, widgetID)
	}
	return o.fetch(ctx, d.ID, d.Widgets[idx])
}

func (o *Orchestrator) fetch(ctx context.Context, dashboardID int64, w types.Widget) error {
	if dashboardID <= 0 || w.ID <= 0 {
		return fmt.Errorf("%w: %d", ErrNotFetchable, w.ID)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	gen := o.gen
	o.seq[w.ID]++
	seq := o.seq[w.ID]
	q := types.WidgetDataQuery{Filters: o.filters.Clone(), DateRange: o.dateRange.Clone()}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "widget.refresh", trace.WithAttributes(
		attribute.Int64("dashboard.id", dashboardID),
		attribute.Int64("widget.id", w.ID),
		attribute.String("widget.type", string(w.Type)),
	))
	defer span.End()

	data, err := o.fetcher.GetWidgetData(ctx, dashboardID, w.ID, w.Type, q)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen || o.seq[w.ID] != seq {
		return ErrSuperseded
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		o.lastErr[w.ID] = err
		o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("widget.type", string(w.Type))))
		span.RecordError(err)
		o.logger.Warn("Widget refresh failed",
			zap.Int64("dashboard_id", dashboardID),
			zap.Int64("widget_id", w.ID),
			zap.Error(err))
		return fmt.Errorf("failed to refresh widget %d: %w", w.ID, err)
	}
	o.data[w.ID] = Entry{Data: data, FetchedAt: time.Now()}
	delete(o.lastErr, w.ID)
	return nil
}

// RefreshAll fetches every saved widget of the open dashboard concurrently and
// waits for the batch. Failures are isolated per widget and reported in the
// summary.
func (o *Orchestrator) RefreshAll(ctx context.Context) Summary {
	sum := Summary{Failed: map[int64]error{}}
	d := o.source.Current()
	if d == nil {
		return sum
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrency)
	for _, w := range d.Widgets {
		if d.ID <= 0 || w.ID <= 0 {
			sum.Skipped = append(sum.Skipped, w.ID)
			continue
		}
		g.Go(func() error {
			err := o.fetch(gctx, d.ID, w)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrSuperseded):
				sum.Superseded = append(sum.Superseded, w.ID)
			case err != nil:
				sum.Failed[w.ID] = err
			default:
				sum.Succeeded = append(sum.Succeeded, w.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sum.Succeeded, func(i, j int) bool { return sum.Succeeded[i] < sum.Succeeded[j] })
	o.logger.Debug("Refreshed dashboard widgets",
		zap.Int64("dashboard_id", d.ID),
		zap.Int("succeeded", len(sum.Succeeded)),
		zap.Int("failed", len(sum.Failed)),
		zap.Int("skipped", len(sum.Skipped)))
	return sum
}

// Load resets all state for a newly opened dashboard, starts its timers and
// refreshes it in the background.
func (o *Orchestrator) Load(d *types.Dashboard) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.resetLocked()
	o.mu.Unlock()

	if d == nil {
		return
	}
	o.Sync(d)
	o.Go(func(ctx context.Context) { o.RefreshAll(ctx) })
}

// Reset drops all data and timers, e.g. when the dashboard is closed.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	o.gen++
	for id, t := range o.tickers {
		t.cancel()
		delete(o.tickers, id)
	}
	o.stopDebounceLocked()
	o.data = make(map[int64]Entry)
	o.lastErr = make(map[int64]error)
	o.seq = make(map[int64]uint64)
}

// Sync makes the timers match the widgets of d: one ticker per saved widget
// with a positive refresh interval.
func (o *Orchestrator) Sync(d *types.Dashboard) {
	want := make(map[int64]int, len(d.Widgets))
	if d.ID > 0 {
		for _, w := range d.Widgets {
			if w.ID > 0 && w.RefreshInterval > 0 {
				want[w.ID] = w.RefreshInterval
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	for id, t := range o.tickers {
		if interval, ok := want[id]; !ok || interval != t.interval {
			t.cancel()
			delete(o.tickers, id)
		}
	}
	for id, interval := range want {
		if _, ok := o.tickers[id]; !ok {
			o.scheduleLocked(id, interval)
		}
	}
}

// Schedule starts or restarts the auto-refresh timer of one widget. An
// interval of zero stops it.
func (o *Orchestrator) Schedule(widgetID int64, interval int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || widgetID <= 0 {
		return
	}
	if t, ok := o.tickers[widgetID]; ok {
		if t.interval == interval {
			return
		}
		t.cancel()
		delete(o.tickers, widgetID)
	}
	if interval > 0 {
		o.scheduleLocked(widgetID, interval)
	}
}

// Unschedule stops the widget's timer and forgets its data.
func (o *Orchestrator) Unschedule(widgetID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tickers[widgetID]; ok {
		t.cancel()
		delete(o.tickers, widgetID)
	}
	delete(o.data, widgetID)
	delete(o.lastErr, widgetID)
	o.seq[widgetID]++
}

func (o *Orchestrator) scheduleLocked(widgetID int64, interval int) {
	ctx, cancel := context.WithCancel(o.ctx)
	o.tickers[widgetID] = &ticker{interval: interval, cancel: cancel}

	period := time.Duration(interval) * o.opts.TickUnit
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = o.RefreshOne(ctx, widgetID)
			}
		}
	}()
}

// Scheduled lists widget ids with a running timer.
func (o *Orchestrator) Scheduled() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int64, 0, len(o.tickers))
	for id := range o.tickers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetFilters replaces the filter set and schedules a debounced refresh.
func (o *Orchestrator) SetFilters(f types.FilterSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters = f.Clone()
	if o.filters == nil {
		o.filters = types.FilterSet{}
	}
	o.triggerLocked()
}

func (o *Orchestrator) SetFilter(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters[key] = value
	o.triggerLocked()
}

func (o *Orchestrator) ClearFilter(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.filters[key]; !ok {
		return
	}
	delete(o.filters, key)
	o.triggerLocked()
}

// SetDateRange replaces the date range; nil removes it.
func (o *Orchestrator) SetDateRange(r *types.DateRange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dateRange = r.Clone()
	o.triggerLocked()
}

// Apply sets filters and date range together and schedules one refresh.
func (o *Orchestrator) Apply(f types.FilterSet, r *types.DateRange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters = f.Clone()
	if o.filters == nil {
		o.filters = types.FilterSet{}
	}
	o.dateRange = r.Clone()
	o.triggerLocked()
}

// Filters returns a copy of the active filter set and date range.
func (o *Orchestrator) Filters() (types.FilterSet, *types.DateRange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filters.Clone(), o.dateRange.Clone()
}

func (o *Orchestrator) triggerLocked() {
	if o.closed {
		return
	}
	o.stopDebounceLocked()
	o.wg.Add(1)
	o.debounce = time.AfterFunc(o.opts.Debounce, func() {
		defer o.wg.Done()
		o.RefreshAll(o.ctx)
	})
}

func (o *Orchestrator) stopDebounceLocked() {
	if o.debounce != nil && o.debounce.Stop() {
		o.wg.Done()
	}
	o.debounce = nil
}

// Go runs fn in the background. Close waits for it; fn receives a context
// cancelled on Close.
func (o *Orchestrator) Go(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

// Data returns the last successful result for a widget.
func (o *Orchestrator) Data(widgetID int64) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.data[widgetID]
	return e, ok
}

// LastError returns the error of the widget's most recent failed refresh, if
// no refresh has succeeded since.
func (o *Orchestrator) LastError(widgetID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr[widgetID]
}

// Snapshot returns a copy of every stored widget result.
func (o *Orchestrator) Snapshot() map[int64]Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[int64]Entry, len(o.data))
	for id, e := range o.data {
		out[id] = e
	}
	return out
}

// Close stops every timer and pending debounce, cancels in-flight refreshes
// and waits for background work to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for id, t := range o.tickers {
		t.cancel()
		delete(o.tickers, id)
	}
	o.stopDebounceLocked()
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}
