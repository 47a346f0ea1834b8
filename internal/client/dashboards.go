package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// widgetBody is the wire form of a widget create/update; ids travel in the path.
type widgetBody struct {
	Type            types.WidgetType   `json:"widget_type"`
	Title           string             `json:"title"`
	Position        types.Position     `json:"position"`
	Config          types.WidgetConfig `json:"config"`
	RefreshInterval int                `json:"refresh_interval"`
}

func newWidgetBody(w types.Widget) widgetBody {
	return widgetBody{
		Type:            w.Type,
		Title:           w.Title,
		Position:        w.Position,
		Config:          w.Config,
		RefreshInterval: w.RefreshInterval,
	}
}

func (f *Fleet) ListDashboards(ctx context.Context, pageSize int) ([]types.Dashboard, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}

	var out []types.Dashboard
	if err := f.do(ctx, http.MethodGet, "/api/v1/dashboards", q, nil, &out); err != nil {
		return nil, err
	}
	f.logger.Debug("Successfully retrieved dashboards", zap.Int("count", len(out)))
	return out, nil
}

func (f *Fleet) GetDashboard(ctx context.Context, id int64) (*types.Dashboard, error) {
	var out types.Dashboard
	if err := f.do(ctx, http.MethodGet, idPath("/api/v1/dashboards/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) CreateDashboard(ctx context.Context, in types.CreateDashboardInput) (*types.Dashboard, error) {
	var out types.Dashboard
	if err := f.do(ctx, http.MethodPost, "/api/v1/dashboards", nil, in, &out); err != nil {
		return nil, err
	}
	if out.ID <= 0 {
		return nil, fmt.Errorf("gateway returned invalid dashboard id %d", out.ID)
	}
	return &out, nil
}

func (f *Fleet) UpdateDashboard(ctx context.Context, id int64, patch types.DashboardUpdate) (*types.Dashboard, error) {
	var out types.Dashboard
	if err := f.do(ctx, http.MethodPut, idPath("/api/v1/dashboards/%d", id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) DeleteDashboard(ctx context.Context, id int64) error {
	return f.do(ctx, http.MethodDelete, idPath("/api/v1/dashboards/%d", id), nil, nil, nil)
}

func (f *Fleet) CloneDashboard(ctx context.Context, id int64, newName string) (*types.Dashboard, error) {
	var out types.Dashboard
	in := types.CloneDashboardInput{Name: newName}
	if err := f.do(ctx, http.MethodPost, idPath("/api/v1/dashboards/%d/clone", id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) AddWidget(ctx context.Context, dashboardID int64, w types.Widget) (*types.Widget, error) {
	var out types.Widget
	path := idPath("/api/v1/dashboards/%d/widgets", dashboardID)
	if err := f.do(ctx, http.MethodPost, path, nil, newWidgetBody(w), &out); err != nil {
		return nil, err
	}
	if out.ID <= 0 {
		return nil, fmt.Errorf("gateway returned invalid widget id %d", out.ID)
	}
	return &out, nil
}

func (f *Fleet) UpdateWidget(ctx context.Context, dashboardID, widgetID int64, w types.Widget) (*types.Widget, error) {
	var out types.Widget
	path := idPath("/api/v1/dashboards/%d/widgets/%d", dashboardID, widgetID)
	if err := f.do(ctx, http.MethodPut, path, nil, newWidgetBody(w), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) DeleteWidget(ctx context.Context, dashboardID, widgetID int64) error {
	path := idPath("/api/v1/dashboards/%d/widgets/%d", dashboardID, widgetID)
	return f.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// GetWidgetData fetches one widget's data and decodes it into the variant for
// the widget's type.
func (f *Fleet) GetWidgetData(ctx context.Context, dashboardID, widgetID int64, widgetType types.WidgetType, q types.WidgetDataQuery) (types.WidgetData, error) {
	var raw json.RawMessage
	path := idPath("/api/v1/dashboards/%d/widgets/%d/data", dashboardID, widgetID)
	if err := f.do(ctx, http.MethodPost, path, nil, q, &raw); err != nil {
		return nil, err
	}
	return types.DecodeWidgetData(widgetType, raw)
}

func (f *Fleet) ListDatasets(ctx context.Context) ([]types.Dataset, error) {
	var out []types.Dataset
	if err := f.do(ctx, http.MethodGet, "/api/v1/datasets", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
