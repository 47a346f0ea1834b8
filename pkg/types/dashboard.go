package types

import (
	"fmt"
	"time"
)

type WidgetType string

const (
	WidgetKPICard    WidgetType = "kpi_card"
	WidgetLineChart  WidgetType = "line_chart"
	WidgetAreaChart  WidgetType = "area_chart"
	WidgetBarChart   WidgetType = "bar_chart"
	WidgetPieChart   WidgetType = "pie_chart"
	WidgetDonutChart WidgetType = "donut_chart"
	WidgetTable      WidgetType = "table"
	WidgetGauge      WidgetType = "gauge"
	WidgetMap        WidgetType = "map"
)

// WidgetTypes lists every supported widget type in catalog order.
var WidgetTypes = []WidgetType{
	WidgetKPICard,
	WidgetLineChart,
	WidgetAreaChart,
	WidgetBarChart,
	WidgetPieChart,
	WidgetDonutChart,
	WidgetTable,
	WidgetGauge,
	WidgetMap,
}

func (t WidgetType) Valid() bool {
	for _, wt := range WidgetTypes {
		if wt == t {
			return true
		}
	}
	return false
}

// ParseWidgetType accepts both the wire form ("kpi_card") and the dashed form
// used by the widget catalog ("kpi-card").
func ParseWidgetType(s string) (WidgetType, error) {
	normalized := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			c = '_'
		}
		normalized = append(normalized, c)
	}
	t := WidgetType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("unknown widget type %q", s)
	}
	return t, nil
}

type Dashboard struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description,omitempty" validate:"max=2000"`
	Layout      LayoutConfig `json:"layout"`
	IsShared    bool         `json:"is_shared"`
	IsDefault   bool         `json:"is_default"`
	Widgets     []Widget     `json:"widgets" validate:"dive"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// LayoutConfig describes the grid the widgets are placed on.
type LayoutConfig struct {
	Columns   int `json:"columns" validate:"gte=1,lte=48"`
	RowHeight int `json:"row_height" validate:"gte=1"`
	MarginX   int `json:"margin_x" validate:"gte=0"`
	MarginY   int `json:"margin_y" validate:"gte=0"`
}

func DefaultLayout() LayoutConfig {
	return LayoutConfig{Columns: 12, RowHeight: 80, MarginX: 10, MarginY: 10}
}

type Widget struct {
	ID              int64        `json:"id"`
	Type            WidgetType   `json:"widget_type" validate:"required"`
	Title           string       `json:"title" validate:"required,max=200"`
	Position        Position     `json:"position"`
	Config          WidgetConfig `json:"config"`
	RefreshInterval int          `json:"refresh_interval,omitempty" validate:"gte=0"`
}

type Position struct {
	X int `json:"x" validate:"gte=0"`
	Y int `json:"y" validate:"gte=0"`
	W int `json:"w" validate:"gte=2"`
	H int `json:"h" validate:"gte=2"`
}

// Overlaps reports whether two grid rectangles share at least one cell.
func (p Position) Overlaps(o Position) bool {
	return p.X < o.X+o.W && o.X < p.X+p.W && p.Y < o.Y+o.H && o.Y < p.Y+p.H
}

// WidgetConfig is the type-specific query and formatting configuration.
type WidgetConfig struct {
	Dataset    string         `json:"dataset,omitempty"`
	Metric     string         `json:"metric,omitempty"`
	Dimensions []string       `json:"dimensions,omitempty"`
	Format     string         `json:"format,omitempty"`
	Thresholds []Threshold    `json:"thresholds,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

type Threshold struct {
	Value float64 `json:"value"`
	Color string  `json:"color,omitempty"`
	Label string  `json:"label,omitempty"`
}

// Clone returns a deep copy so callers can read without sharing nested slices.
func (w Widget) Clone() Widget {
	c := w
	c.Config = w.Config.clone()
	return c
}

func (c WidgetConfig) clone() WidgetConfig {
	out := c
	if c.Dimensions != nil {
		out.Dimensions = append([]string(nil), c.Dimensions...)
	}
	if c.Thresholds != nil {
		out.Thresholds = append([]Threshold(nil), c.Thresholds...)
	}
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

func (d *Dashboard) Clone() *Dashboard {
	if d == nil {
		return nil
	}
	c := *d
	if d.Widgets != nil {
		c.Widgets = make([]Widget, len(d.Widgets))
		for i, w := range d.Widgets {
			c.Widgets[i] = w.Clone()
		}
	}
	return &c
}

// WidgetIndex returns the position of the widget with the given id, or -1.
func (d *Dashboard) WidgetIndex(id int64) int {
	for i := range d.Widgets {
		if d.Widgets[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateDashboardInput is the body of a dashboard shell creation.
type CreateDashboardInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DashboardUpdate carries the metadata fields persisted by an update call.
// Nil fields are left untouched by the gateway.
type DashboardUpdate struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Layout      *LayoutConfig `json:"layout,omitempty"`
	IsShared    *bool         `json:"is_shared,omitempty"`
	IsDefault   *bool         `json:"is_default,omitempty"`
}

type CloneDashboardInput struct {
	Name string `json:"name"`
}

// Dataset is a queryable source exposed by the gateway.
type Dataset struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Fields      []DatasetField `json:"fields,omitempty"`
}

type DatasetField struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Label    string `json:"label,omitempty"`
}
