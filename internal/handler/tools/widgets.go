package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FleetAI/fleet-console/internal/refresh"
	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

const widgetDataDesc = "Widget data is fetched only for saved widgets (positive ids). Widgets added since the last save get data after fleet_save_dashboard."

// widgetDataView is one widget's data. Stale is set when the latest refresh
// failed and Data is from an earlier success.
type widgetDataView struct {
	WidgetID  int64            `json:"widget_id"`
	Title     string           `json:"title"`
	Type      types.WidgetType `json:"widget_type"`
	Data      types.WidgetData `json:"data,omitempty"`
	FetchedAt *time.Time       `json:"fetched_at,omitempty"`
	Error     string           `json:"error,omitempty"`
	Stale     bool             `json:"stale,omitempty"`
	Unsaved   bool             `json:"unsaved,omitempty"`
}

func widgetData(o *refresh.Orchestrator, w types.Widget) widgetDataView {
	v := widgetDataView{WidgetID: w.ID, Title: w.Title, Type: w.Type, Unsaved: w.ID <= 0}
	entry, ok := o.Data(w.ID)
	if ok {
		v.Data = entry.Data
		at := entry.FetchedAt
		v.FetchedAt = &at
	}
	if err := o.LastError(w.ID); err != nil {
		v.Error = err.Error()
		v.Stale = ok
	}
	return v
}

type filterView struct {
	Filters   types.FilterSet  `json:"filters"`
	DateRange *types.DateRange `json:"date_range,omitempty"`
	Hint      string           `json:"hint,omitempty"`
}

type refreshView struct {
	Succeeded  []int64          `json:"succeeded"`
	Failed     map[int64]string `json:"failed,omitempty"`
	Skipped    []int64          `json:"skipped,omitempty"`
	Superseded []int64          `json:"superseded,omitempty"`
}

func (h *Handler) RegisterWidgetHandlers(s *server.MCPServer) {
	h.logger.Debug("Registering widget handlers")

	addTool := mcp.NewTool("fleet_add_widget",
		mcp.WithDescription("Add a widget to the open dashboard. Missing title, config and size are taken from the widget catalog; without x/y the widget is placed in the first free slot. The widget gets a temporary negative id until fleet_save_dashboard. "+widgetDataDesc),
		mcp.WithString("widgetType", mcp.Required(), mcp.Description("One of: "+allowedWidgetTypes+".")),
		mcp.WithString("title", mcp.Description("Widget title. Defaults to the catalog name.")),
		mcp.WithObject("config", mcp.Description(`Widget query config. Example: {"dataset": "trips", "metric": "distance_km", "dimensions": ["depot"]}`)),
		mcp.WithString("x", mcp.Description("Grid column, >= 0.")),
		mcp.WithString("y", mcp.Description("Grid row, >= 0.")),
		mcp.WithString("w", mcp.Description("Width in grid columns, >= 2. Default: catalog size.")),
		mcp.WithString("h", mcp.Description("Height in grid rows, >= 2. Default: catalog size.")),
		mcp.WithString("refreshInterval", mcp.Description("Auto-refresh interval in seconds. 0 disables it.")),
	)

	h.addTool(s, addTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spec, err := parseAddWidgetArgs(arguments(req))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		w, err := sess.Dashboards().AddWidget(spec)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{
			"widget": w,
			"hint":   "Widget added locally. Call fleet_save_dashboard to persist it.",
		})
	})

	updateTool := mcp.NewTool("fleet_update_widget",
		mcp.WithDescription("Change type, title, config or refresh interval of a widget on the open dashboard. Use fleet_move_widget to change its position."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Widget id. Unsaved widgets have negative ids.")),
		mcp.WithString("widgetType", mcp.Description("New widget type. One of: "+allowedWidgetTypes+".")),
		mcp.WithString("title", mcp.Description("New title.")),
		mcp.WithObject("config", mcp.Description("Replacement widget config.")),
		mcp.WithString("refreshInterval", mcp.Description("Auto-refresh interval in seconds. 0 disables it.")),
	)

	h.addTool(s, updateTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		id, err := idArg(args, "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		patch, err := parseUpdateWidgetArgs(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		w, err := sess.Dashboards().UpdateWidget(id, patch)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"widget": w})
	})

	moveTool := mcp.NewTool("fleet_move_widget",
		mcp.WithDescription("Move or resize a widget on the open dashboard. Omitted coordinates keep their current values. The new position must fit the grid and must not overlap another widget."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Widget id.")),
		mcp.WithString("x", mcp.Description("Grid column, >= 0.")),
		mcp.WithString("y", mcp.Description("Grid row, >= 0.")),
		mcp.WithString("w", mcp.Description("Width, >= 2.")),
		mcp.WithString("h", mcp.Description("Height, >= 2.")),
	)

	h.addTool(s, moveTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		id, err := idArg(args, "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		w, ok := sess.Dashboards().Widget(id)
		if !ok {
			return errorResult(fmt.Errorf("%w: %d", store.ErrWidgetNotFound, id)), nil
		}
		pos, err := positionArg(args, &w.Position)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if pos == nil {
			return mcp.NewToolResultError(`Parameter validation failed: provide at least one of "x", "y", "w" or "h"`), nil
		}
		if err := sess.Dashboards().SetWidgetPosition(id, *pos); err != nil {
			return errorResult(err), nil
		}
		w, _ = sess.Dashboards().Widget(id)
		return jsonResult(map[string]any{"widget": w})
	})

	removeTool := mcp.NewTool("fleet_remove_widget",
		mcp.WithDescription("Remove a widget from the open dashboard. Saved widgets are deleted on the gateway on the next fleet_save_dashboard."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Widget id.")),
	)

	h.addTool(s, removeTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := idArg(arguments(req), "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Dashboards().RemoveWidget(id); err != nil {
			return errorResult(err), nil
		}
		return viewDashboard(sess, "")
	})

	filtersTool := mcp.NewTool("fleet_set_filters",
		mcp.WithDescription("Set the global filters and time range of the open dashboard view. Every saved widget refreshes once after the change. Filters are not saved with the dashboard."),
		mcp.WithObject("filters", mcp.Description(`Filter values keyed by field. Example: {"depot": "north", "vehicle_type": ["van", "truck"]}`)),
		mcp.WithBoolean("merge", mcp.Description("Keep existing filters and override only the given keys. Default: false (replace all).")),
		mcp.WithArray("clear", mcp.Description("Filter keys to remove."), mcp.WithStringItems()),
		mcp.WithString("timeRange", mcp.Description("Relative range ending now, like '30m', '24h' or '7d'. Takes precedence over start/end.")),
		mcp.WithString("start", mcp.Description("Range start, RFC3339 or YYYY-MM-DD.")),
		mcp.WithString("end", mcp.Description("Range end, RFC3339 or YYYY-MM-DD. Default: now.")),
	)

	h.addTool(s, filtersTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		freq, err := parseFilterArgs(arguments(req), h.now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if sess.Dashboards().Current() == nil {
			return errorResult(store.ErrNoCurrent), nil
		}

		o := sess.Refresh()
		cur, rng := o.Filters()
		next := types.FilterSet{}
		if freq.Merge {
			next = cur.Clone()
			if next == nil {
				next = types.FilterSet{}
			}
		}
		for k, v := range freq.Filters {
			next[k] = v
		}
		for _, k := range freq.Clear {
			delete(next, k)
		}
		if freq.DateRange != nil {
			rng = freq.DateRange
		}
		o.Apply(next, rng)

		f, r := o.Filters()
		return jsonResult(filterView{Filters: f, DateRange: r, Hint: "Widgets are refreshing. Read results with fleet_get_widget_data."})
	})

	refreshTool := mcp.NewTool("fleet_refresh_widgets",
		mcp.WithDescription("Refresh widget data now and wait for the result. Without widgetId every saved widget of the open dashboard is refreshed concurrently; one widget failing does not affect the others. "+widgetDataDesc),
		mcp.WithString("widgetId", mcp.Description("Refresh only this widget.")),
	)

	h.addTool(s, refreshTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		o := sess.Refresh()

		if _, ok := args["widgetId"]; ok {
			id, err := idArg(args, "widgetId")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			w, found := sess.Dashboards().Widget(id)
			if !found {
				return errorResult(fmt.Errorf("%w: %d", store.ErrWidgetNotFound, id)), nil
			}
			// on failure the previous data is still served, with the error attached
			if err := o.RefreshOne(ctx, id); errors.Is(err, refresh.ErrNotFetchable) {
				return mcp.NewToolResultError(err.Error() + ". " + widgetDataDesc), nil
			}
			return jsonResult(widgetData(o, w))
		}

		if sess.Dashboards().Current() == nil {
			return errorResult(store.ErrNoCurrent), nil
		}
		sum := o.RefreshAll(ctx)
		view := refreshView{Succeeded: sum.Succeeded, Skipped: sum.Skipped, Superseded: sum.Superseded}
		if view.Succeeded == nil {
			view.Succeeded = []int64{}
		}
		if len(sum.Failed) > 0 {
			view.Failed = make(map[int64]string, len(sum.Failed))
			for id, err := range sum.Failed {
				view.Failed[id] = err.Error()
			}
		}
		return jsonResult(view)
	})

	dataTool := mcp.NewTool("fleet_get_widget_data",
		mcp.WithDescription("Read the latest fetched data of the open dashboard's widgets without fetching. When the last refresh failed, the previous data is returned with 'stale': true and the error. "+widgetDataDesc),
		mcp.WithString("widgetId", mcp.Description("Return only this widget.")),
	)

	h.addTool(s, dataTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		d := sess.Dashboards().Current()
		if d == nil {
			return errorResult(store.ErrNoCurrent), nil
		}
		o := sess.Refresh()

		if _, ok := args["widgetId"]; ok {
			id, err := idArg(args, "widgetId")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			w, found := sess.Dashboards().Widget(id)
			if !found {
				return errorResult(fmt.Errorf("%w: %d", store.ErrWidgetNotFound, id)), nil
			}
			return jsonResult(widgetData(o, w))
		}

		out := make([]widgetDataView, 0, len(d.Widgets))
		for _, w := range d.Widgets {
			out = append(out, widgetData(o, w))
		}
		return jsonResult(map[string]any{"dashboard_id": d.ID, "widgets": out})
	})
}
