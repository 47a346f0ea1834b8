package types

import "time"

// FilterSet holds the global filters of a dashboard view, keyed by field.
type FilterSet map[string]any

func (f FilterSet) Clone() FilterSet {
	if f == nil {
		return nil
	}
	out := make(FilterSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r *DateRange) Clone() *DateRange {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// WidgetDataQuery is the body of a widget data fetch.
type WidgetDataQuery struct {
	Filters   FilterSet  `json:"filters,omitempty"`
	DateRange *DateRange `json:"date_range,omitempty"`
}
