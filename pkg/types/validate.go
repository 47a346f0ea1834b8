package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the widget type enumeration.
func (w *Widget) Validate() error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid widget: %w", err)
	}
	if !w.Type.Valid() {
		return fmt.Errorf("invalid widget: unknown widget type %q", w.Type)
	}
	return nil
}

// Validate checks the dashboard and every widget, and that widget ids are
// unique within the dashboard.
func (d *Dashboard) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid dashboard: %w", err)
	}
	seen := make(map[int64]struct{}, len(d.Widgets))
	for i := range d.Widgets {
		w := &d.Widgets[i]
		if !w.Type.Valid() {
			return fmt.Errorf("invalid dashboard: widget %d has unknown type %q", w.ID, w.Type)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("invalid dashboard: duplicate widget id %d", w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

// Validate checks the report definition, column uniqueness and schedules.
func (r *Report) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	if err := r.Config.validateColumns(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	for i := range r.Schedules {
		if _, err := r.Schedules[i].parse(); err != nil {
			return fmt.Errorf("invalid report: schedule %d: %w", i, err)
		}
	}
	return nil
}

func (c ReportConfig) validateColumns() error {
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if _, dup := seen[col.Field]; dup {
			return fmt.Errorf("duplicate column field %q", col.Field)
		}
		seen[col.Field] = struct{}{}
	}
	return nil
}

func (s *Schedule) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if _, err := s.parse(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}

// NextRun returns the first fire time strictly after the given instant.
func (s *Schedule) NextRun(after time.Time) (time.Time, error) {
	sched, err := s.parse()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

func (s *Schedule) parse() (cron.Schedule, error) {
	sched, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
	}
	return sched, nil
}
