package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// ReportPatch lists the report fields to change; nil fields are kept.
type ReportPatch struct {
	Name        *string
	Description *string
	Dataset     *string
	IsShared    *bool
	Config      *types.ReportConfig
}

// ReportStore owns the report list and the report open in the builder.
type ReportStore struct {
	logger *zap.Logger
	gw     ReportGateway
	tracer trace.Tracer

	mu       sync.Mutex
	listener Listener
	list     []types.Report
	current  *types.Report
	state    entityState
}

func NewReportStore(log *zap.Logger, gw ReportGateway, listener Listener) *ReportStore {
	if listener == nil {
		listener = NopListener{}
	}
	return &ReportStore{
		logger:   log,
		gw:       gw,
		tracer:   otel.Tracer("github.com/FleetAI/fleet-console/internal/store"),
		listener: listener,
	}
}

func (s *ReportStore) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// LoadList replaces the report list. On failure the previous list is kept.
func (s *ReportStore) LoadList(ctx context.Context) error {
	list, err := s.gw.ListReports(ctx)
	if err != nil {
		s.logger.Error("Failed to load reports", zap.Error(err))
		return fmt.Errorf("failed to load reports: %w", err)
	}

	s.mu.Lock()
	s.list = list
	s.mu.Unlock()
	return nil
}

func (s *ReportStore) List() []types.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Report, len(s.list))
	for i := range s.list {
		out[i] = *s.list[i].Clone()
	}
	return out
}

// LoadOne fetches a report and opens it with no unsaved changes.
func (s *ReportStore) LoadOne(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid report id %d", id)
	}
	r, err := s.gw.GetReport(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load report", zap.Int64("report_id", id), zap.Error(err))
		return fmt.Errorf("failed to load report %d: %w", id, err)
	}

	s.mu.Lock()
	s.current = r.Clone()
	s.state.reset()
	listener := s.listener
	s.mu.Unlock()

	listener.ReportLoaded(r.Clone())
	return nil
}

// NewDraft opens a local report with id 0 that Save creates on the gateway.
func (s *ReportStore) NewDraft(name, dataset, description string) (*types.Report, error) {
	r := &types.Report{Name: name, Dataset: dataset, Description: description}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = r
	s.state.reset()
	s.state.markDirty()
	listener := s.listener
	s.mu.Unlock()

	listener.ReportLoaded(r.Clone())
	return r.Clone(), nil
}

// Create asks the gateway for a new report and appends it to the list.
func (s *ReportStore) Create(ctx context.Context, name, dataset, description string) (*types.Report, error) {
	in := types.CreateReportInput{Name: name, Dataset: dataset, Description: description}
	if name == "" || dataset == "" {
		return nil, errors.New("report name and dataset are required")
	}
	r, err := s.gw.CreateReport(ctx, in)
	if err != nil {
		s.logger.Error("Failed to create report", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	s.mu.Lock()
	s.list = append(s.list, *r.Clone())
	s.mu.Unlock()
	return r.Clone(), nil
}

func (s *ReportStore) Close() {
	s.mu.Lock()
	hadCurrent := s.current != nil
	s.current = nil
	s.state.reset()
	listener := s.listener
	s.mu.Unlock()

	if hadCurrent {
		listener.ReportClosed()
	}
}

func (s *ReportStore) Current() *types.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *ReportStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.dirty
}

// edit applies fn to a copy of the open report and commits it only when fn
// succeeds and the result validates.
func (s *ReportStore) edit(fn func(r *types.Report) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoCurrent
	}

	next := s.current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.current = next
	s.state.markDirty()
	return nil
}

// Mutate applies a patch to the open report.
func (s *ReportStore) Mutate(p ReportPatch) error {
	return s.edit(func(r *types.Report) error {
		if p.Name != nil {
			r.Name = *p.Name
		}
		if p.Description != nil {
			r.Description = *p.Description
		}
		if p.Dataset != nil {
			r.Dataset = *p.Dataset
		}
		if p.IsShared != nil {
			r.IsShared = *p.IsShared
		}
		if p.Config != nil {
			r.Config = p.Config.Clone()
		}
		return nil
	})
}

// AddColumn appends a column. A field may be selected only once.
func (s *ReportStore) AddColumn(col types.Column) error {
	return s.edit(func(r *types.Report) error {
		if r.Config.HasColumn(col.Field) {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Field)
		}
		r.Config.Columns = append(r.Config.Columns, col)
		return nil
	})
}

func (s *ReportStore) RemoveColumn(field string) error {
	return s.edit(func(r *types.Report) error {
		idx := columnIndex(r.Config.Columns, field)
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrColumnNotFound, field)
		}
		r.Config.Columns = append(r.Config.Columns[:idx], r.Config.Columns[idx+1:]...)
		return nil
	})
}

// MoveColumn moves a column to position to, clamped to the column count.
func (s *ReportStore) MoveColumn(field string, to int) error {
	return s.edit(func(r *types.Report) error {
		cols := r.Config.Columns
		from := columnIndex(cols, field)
		if from < 0 {
			return fmt.Errorf("%w: %q", ErrColumnNotFound, field)
		}
		to = max(0, min(to, len(cols)-1))
		col := cols[from]
		cols = append(cols[:from], cols[from+1:]...)
		cols = append(cols[:to], append([]types.Column{col}, cols[to:]...)...)
		r.Config.Columns = cols
		return nil
	})
}

func columnIndex(cols []types.Column, field string) int {
	for i, c := range cols {
		if c.Field == field {
			return i
		}
	}
	return -1
}

func (s *ReportStore) AddFilter(f types.Filter) error {
	return s.edit(func(r *types.Report) error {
		r.Config.Filters = append(r.Config.Filters, f)
		return nil
	})
}

// RemoveFilter drops the filter at index i.
func (s *ReportStore) RemoveFilter(i int) error {
	return s.edit(func(r *types.Report) error {
		if i < 0 || i >= len(r.Config.Filters) {
			return fmt.Errorf("filter index %d out of range", i)
		}
		r.Config.Filters = append(r.Config.Filters[:i], r.Config.Filters[i+1:]...)
		return nil
	})
}

func (s *ReportStore) SetSorts(sorts []types.Sort) error {
	return s.edit(func(r *types.Report) error {
		r.Config.Sorts = append([]types.Sort(nil), sorts...)
		return nil
	})
}

func (s *ReportStore) SetGroupBy(fields []string) error {
	return s.edit(func(r *types.Report) error {
		r.Config.GroupBy = append([]string(nil), fields...)
		return nil
	})
}

func (s *ReportStore) SetAggregations(aggs []types.Aggregation) error {
	return s.edit(func(r *types.Report) error {
		r.Config.Aggregations = append([]types.Aggregation(nil), aggs...)
		return nil
	})
}

// AddSchedule attaches a delivery schedule. The cron expression must parse.
func (s *ReportStore) AddSchedule(sched types.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	return s.edit(func(r *types.Report) error {
		sched.Recipients = append([]string(nil), sched.Recipients...)
		r.Schedules = append(r.Schedules, sched)
		return nil
	})
}

func (s *ReportStore) RemoveSchedule(i int) error {
	return s.edit(func(r *types.Report) error {
		if i < 0 || i >= len(r.Schedules) {
			return fmt.Errorf("schedule index %d out of range", i)
		}
		r.Schedules = append(r.Schedules[:i], r.Schedules[i+1:]...)
		return nil
	})
}

// Save persists the open report. A draft is created first and then updated with
// the full definition.
func (s *ReportStore) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrent
	}
	ticket, err := s.state.beginSave()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.current.Clone()
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "report.save", trace.WithAttributes(attribute.Int64("report.id", snapshot.ID)))
	defer span.End()

	saved, err := s.persist(ctx, ticket, snapshot)

	s.mu.Lock()
	s.state.finishSave(ticket, err == nil)
	if err == nil && s.state.sameEntity(ticket) {
		s.upsertListEntry(saved)
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Report save failed", zap.Int64("report_id", snapshot.ID), zap.Error(err))
		return err
	}
	s.logger.Info("Report saved", zap.Int64("report_id", saved.ID))
	return nil
}

func (s *ReportStore) persist(ctx context.Context, ticket saveTicket, r *types.Report) (*types.Report, error) {
	if r.ID == 0 {
		created, err := s.gw.CreateReport(ctx, types.CreateReportInput{
			Name:        r.Name,
			Description: r.Description,
			Dataset:     r.Dataset,
			Config:      r.Config,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create report: %w", err)
		}

		s.mu.Lock()
		if !s.state.sameEntity(ticket) {
			s.mu.Unlock()
			return nil, errEntityChanged
		}
		s.current.ID = created.ID
		s.current.CreatedAt = created.CreatedAt
		s.mu.Unlock()
		r.ID = created.ID
		r.CreatedAt = created.CreatedAt
	}

	if _, err := s.gw.UpdateReport(ctx, r.ID, *r); err != nil {
		return nil, fmt.Errorf("failed to save report %d: %w", r.ID, err)
	}
	return r, nil
}

// upsertListEntry refreshes the list entry for r. Callers hold s.mu.
func (s *ReportStore) upsertListEntry(r *types.Report) {
	for i := range s.list {
		if s.list[i].ID == r.ID {
			s.list[i] = *r.Clone()
			return
		}
	}
	s.list = append(s.list, *r.Clone())
}

// Delete removes a report on the gateway, then locally.
func (s *ReportStore) Delete(ctx context.Context, id int64) error {
	if err := s.gw.DeleteReport(ctx, id); err != nil {
		s.logger.Error("Failed to delete report", zap.Int64("report_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete report %d: %w", id, err)
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
