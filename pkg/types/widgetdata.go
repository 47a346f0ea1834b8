package types

import (
	"encoding/json"
	"fmt"
)

// WidgetData is the result of a widget fetch. Each widget type maps to exactly
// one concrete variant, so consumers can switch on the dynamic type.
type WidgetData interface {
	widgetData()
}

type KPIData struct {
	Value         float64  `json:"value"`
	Comparison    *float64 `json:"comparison,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
	Trend         string   `json:"trend,omitempty"`
	Unit          string   `json:"unit,omitempty"`
}

// SeriesData backs line, area and bar charts.
type SeriesData struct {
	Dimension string      `json:"dimension"`
	Metrics   []string    `json:"metrics"`
	Rows      []SeriesRow `json:"rows"`
}

type SeriesRow struct {
	Dimension any                `json:"dimension"`
	Values    map[string]float64 `json:"values"`
}

// DistributionData backs pie and donut charts.
type DistributionData struct {
	Slices []Slice `json:"slices"`
}

type Slice struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

type TableData struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

type GaugeData struct {
	Value      float64     `json:"value"`
	Target     float64     `json:"target"`
	Percentage float64     `json:"percentage"`
	Thresholds []Threshold `json:"thresholds,omitempty"`
}

type MapData struct {
	Points []GeoPoint `json:"points"`
}

type GeoPoint struct {
	Latitude  float64        `json:"lat"`
	Longitude float64        `json:"lng"`
	Label     string         `json:"label,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

func (KPIData) widgetData()          {}
func (SeriesData) widgetData()       {}
func (DistributionData) widgetData() {}
func (TableData) widgetData()        {}
func (GaugeData) widgetData()        {}
func (MapData) widgetData()          {}

// DecodeWidgetData decodes a raw gateway payload into the variant matching t.
func DecodeWidgetData(t WidgetType, raw json.RawMessage) (WidgetData, error) {
	var (
		data WidgetData
		err  error
	)
	switch t {
	case WidgetKPICard:
		var v KPIData
		err = json.Unmarshal(raw, &v)
		data = v
	case WidgetLineChart, WidgetAreaChart, WidgetBarChart:
		var v SeriesData
		err = json.Unmarshal(raw, &v)
		data = v
	case WidgetPieChart, WidgetDonutChart:
		var v DistributionData
		err = json.Unmarshal(raw, &v)
		data = v
	case WidgetTable:
		var v TableData
		err = json.Unmarshal(raw, &v)
		data = v
	case WidgetGauge:
		var v GaugeData
		err = json.Unmarshal(raw, &v)
		data = v
	case WidgetMap:
		var v MapData
		err = json.Unmarshal(raw, &v)
		data = v
	default:
		return nil, fmt.Errorf("unknown widget type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s data: %w", t, err)
	}
	return data, nil
}
