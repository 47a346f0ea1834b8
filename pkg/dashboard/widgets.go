package dashboard

import "github.com/FleetAI/fleet-console/pkg/types"

// Template is a widget catalog entry: the defaults applied when a user adds a
// widget of that type.
type Template struct {
	Type        types.WidgetType   `json:"widget_type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Width       int                `json:"default_w"`
	Height      int                `json:"default_h"`
	Config      types.WidgetConfig `json:"config"`
}

var catalog = []Template{
	{
		Type:        types.WidgetKPICard,
		Name:        "KPI Card",
		Description: "Single aggregated metric with comparison to the previous period.",
		Width:       3,
		Height:      2,
		Config:      types.WidgetConfig{Format: "number"},
	},
	{
		Type:        types.WidgetLineChart,
		Name:        "Line Chart",
		Description: "Metric trend over a time or ordered dimension.",
		Width:       6,
		Height:      4,
	},
	{
		Type:        types.WidgetAreaChart,
		Name:        "Area Chart",
		Description: "Cumulative or stacked metric trend.",
		Width:       6,
		Height:      4,
	},
	{
		Type:        types.WidgetBarChart,
		Name:        "Bar Chart",
		Description: "Categorical comparison across a dimension.",
		Width:       6,
		Height:      4,
	},
	{
		Type:        types.WidgetPieChart,
		Name:        "Pie Chart",
		Description: "Proportional breakdown over a small set of categories.",
		Width:       4,
		Height:      4,
	},
	{
		Type:        types.WidgetDonutChart,
		Name:        "Donut Chart",
		Description: "Proportional breakdown with a total in the center.",
		Width:       4,
		Height:      4,
	},
	{
		Type:        types.WidgetTable,
		Name:        "Table",
		Description: "Raw rows for exact value inspection.",
		Width:       12,
		Height:      6,
		Config:      types.WidgetConfig{Options: map[string]any{"page_size": 10}},
	},
	{
		Type:        types.WidgetGauge,
		Name:        "Gauge",
		Description: "Value against a target with thresholds.",
		Width:       3,
		Height:      3,
		Config:      types.WidgetConfig{
			Format: "percent",
			Thresholds: []types.Threshold{
				{Value: 50, Color: "red", Label: "low"},
				{Value: 80, Color: "amber", Label: "fair"},
				{Value: 100, Color: "green", Label: "good"},
			},
		},
	},
	{
		Type:        types.WidgetMap,
		Name:        "Map",
		Description: "Vehicle or depot locations.",
		Width:       6,
		Height:      6,
	},
}

// Catalog returns a copy of every catalog entry.
func Catalog() []Template {
	out := make([]Template, len(catalog))
	for i, t := range catalog {
		out[i] = t
		out[i].Config = types.Widget{Config: t.Config}.Clone().Config
	}
	return out
}

// Lookup returns the catalog entry for a widget type.
func Lookup(t types.WidgetType) (Template, bool) {
	for _, tmpl := range Catalog() {
		if tmpl.Type == t {
			return tmpl, true
		}
	}
	return Template{}, false
}

const WidgetsInstructions = `
Widget types [CRITICAL]:
1. kpi_card: one aggregated value with comparison to the prior period. Needs dataset and metric.
2. line_chart / area_chart: metric over an ordered dimension (usually time). Needs dataset, metric, one dimension.
3. bar_chart: categorical comparison. Needs dataset, metric, one dimension.
4. pie_chart / donut_chart: share of a whole across few categories. Needs dataset, metric, one dimension.
5. table: raw rows. Needs dataset; dimensions list the columns.
6. gauge: value against a target with thresholds. Needs dataset, metric and thresholds.
7. map: vehicle or depot locations. Needs a dataset exposing lat/lng.

Editing rules:
- New widgets get a temporary negative id until the dashboard is saved. Use that id for edits before saving.
- Nothing is persisted until fleet_save_dashboard is called.
- refresh_interval is in seconds; 0 means manual refresh only.
- Global filters and the time range apply to every widget on the open dashboard.
`
