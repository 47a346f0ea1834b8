package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/session"
	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

type dashboardSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsShared    bool      `json:"is_shared"`
	IsDefault   bool      `json:"is_default"`
	Widgets     int       `json:"widgets"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func summarizeDashboard(d types.Dashboard) any {
	return dashboardSummary{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		IsShared:    d.IsShared,
		IsDefault:   d.IsDefault,
		Widgets:     len(d.Widgets),
		UpdatedAt:   d.UpdatedAt,
	}
}

type pendingChanges struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
}

// dashboardView is the open dashboard as returned to the assistant.
type dashboardView struct {
	Dashboard *types.Dashboard `json:"dashboard"`
	Saved     bool             `json:"saved"`
	Dirty     bool             `json:"dirty"`
	Pending   pendingChanges   `json:"pending"`
	Hint      string           `json:"hint,omitempty"`
}

func viewDashboard(sess *session.Session, hint string) (*mcp.CallToolResult, error) {
	ds := sess.Dashboards()
	d := ds.Current()
	if d == nil {
		return errorResult(store.ErrNoCurrent), nil
	}
	c, u, del := ds.PendingChanges()
	return jsonResult(dashboardView{
		Dashboard: d,
		Saved:     d.ID > 0,
		Dirty:     ds.Dirty(),
		Pending:   pendingChanges{Creates: c, Updates: u, Deletes: del},
		Hint:      hint,
	})
}

func (h *Handler) RegisterDashboardHandlers(s *server.MCPServer) {
	h.logger.Debug("Registering dashboard handlers")

	listTool := mcp.NewTool("fleet_list_dashboards",
		mcp.WithDescription("List dashboards (id, name, description, widget count, sharing flags). IMPORTANT: This tool supports pagination using 'limit' and 'offset' parameters. The response includes 'pagination' metadata with 'total', 'hasMore', and 'nextOffset' fields. When searching for a specific dashboard, ALWAYS check 'pagination.hasMore' and keep paginating with 'nextOffset' until you find it. Supports optional regex filtering via 'namePattern'."),
		mcp.WithString("namePattern", mcp.Description("Optional regex matched against name or description. Example: 'depot.*north'. Case-sensitive.")),
		mcp.WithString("limit", mcp.Description("Maximum number of dashboards to return per page. Default: 50.")),
		mcp.WithString("offset", mcp.Description("Number of results to skip before returning results. Default: 0.")),
	)

	h.addTool(s, listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Dashboards().LoadList(ctx); err != nil {
			return errorResult(err), nil
		}
		return pagedResult(arguments(req), sess.Dashboards().List(),
			func(re *regexp.Regexp, d types.Dashboard) bool {
				return re.MatchString(d.Name) || re.MatchString(d.Description)
			},
			summarizeDashboard)
	})

	openTool := mcp.NewTool("fleet_open_dashboard",
		mcp.WithDescription("Open a dashboard for viewing and editing. Unsaved edits to the previously open dashboard are discarded. Widget data starts loading in the background: read it with fleet_get_widget_data."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Dashboard id from fleet_list_dashboards or fleet_search.")),
	)

	h.addTool(s, openTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := idArg(arguments(req), "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if _, err := sess.OpenDashboard(ctx, id); err != nil {
			return errorResult(err), nil
		}
		return viewDashboard(sess, "")
	})

	createTool := mcp.NewTool("fleet_create_dashboard",
		mcp.WithDescription("Create a dashboard. By default it is created on the gateway immediately. With draft=true a local draft is opened instead; it is created on the first fleet_save_dashboard."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Dashboard name, at most 200 characters.")),
		mcp.WithString("description", mcp.Description("Optional description.")),
		mcp.WithBoolean("draft", mcp.Description("Open a local draft instead of creating it now. Default: false.")),
	)

	h.addTool(s, createTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		name, _ := args["name"].(string)
		if name == "" {
			return mcp.NewToolResultError(`Parameter validation failed: "name" is required. Example: {"name": "North depot overview"}`), nil
		}
		description, _ := args["description"].(string)

		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if boolArg(args, "draft") {
			if _, err := sess.Dashboards().NewDraft(name, description); err != nil {
				return errorResult(err), nil
			}
			return viewDashboard(sess, "Draft opened. Add widgets, then call fleet_save_dashboard.")
		}

		d, err := sess.Dashboards().Create(ctx, name, description)
		if err != nil {
			return errorResult(err), nil
		}
		h.logger.Info("Dashboard created", zap.Int64("dashboard_id", d.ID))
		return jsonResult(map[string]any{
			"dashboard": summarizeDashboard(*d),
			"hint":      "Call fleet_open_dashboard with this id to add widgets.",
		})
	})

	updateTool := mcp.NewTool("fleet_update_dashboard",
		mcp.WithDescription("Change metadata of the open dashboard. Edits are local until fleet_save_dashboard."),
		mcp.WithString("name", mcp.Description("New name.")),
		mcp.WithString("description", mcp.Description("New description.")),
		mcp.WithBoolean("isShared", mcp.Description("Share the dashboard with the organization.")),
		mcp.WithBoolean("isDefault", mcp.Description("Make this the default dashboard.")),
		mcp.WithString("columns", mcp.Description("Number of grid columns, 1 to 48. Default layout has 12.")),
	)

	h.addTool(s, updateTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}

		var p store.DashboardPatch
		if v, ok := args["name"].(string); ok && v != "" {
			p.Name = &v
		}
		if v, ok := args["description"].(string); ok {
			p.Description = &v
		}
		if _, ok := args["isShared"]; ok {
			v := boolArg(args, "isShared")
			p.IsShared = &v
		}
		if _, ok := args["isDefault"]; ok {
			v := boolArg(args, "isDefault")
			p.IsDefault = &v
		}
		if _, ok := args["columns"]; ok {
			cols, err := intArg(args, "columns", 0)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if cur := sess.Dashboards().Current(); cur != nil && cols > 0 {
				layout := cur.Layout
				layout.Columns = cols
				p.Layout = &layout
			}
		}

		if err := sess.Dashboards().Mutate(p); err != nil {
			return errorResult(err), nil
		}
		return viewDashboard(sess, "")
	})

	saveTool := mcp.NewTool("fleet_save_dashboard",
		mcp.WithDescription("Save the open dashboard: metadata, then widget deletions, creations and updates. When some widget operations fail the rest are kept; call again to retry only what is still unsaved."),
	)

	h.addTool(s, saveTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Dashboards().Save(ctx); err != nil {
			if errors.Is(err, store.ErrNoChanges) || errors.Is(err, store.ErrNoCurrent) || errors.Is(err, store.ErrSaveInProgress) {
				return errorResult(err), nil
			}
			c, u, d := sess.Dashboards().PendingChanges()
			return mcp.NewToolResultError(err.Error() +
				". Still unsaved: " + pendingText(c, u, d) + ". Call fleet_save_dashboard again to retry."), nil
		}
		return viewDashboard(sess, "")
	})

	deleteTool := mcp.NewTool("fleet_delete_dashboard",
		mcp.WithDescription("Delete a dashboard on the gateway. If it is open, it is closed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Dashboard id.")),
	)

	h.addTool(s, deleteTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := idArg(arguments(req), "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Dashboards().Delete(ctx, id); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"deleted": id})
	})

	cloneTool := mcp.NewTool("fleet_clone_dashboard",
		mcp.WithDescription("Clone a dashboard with all its widgets under a new name."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Dashboard id to clone.")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the copy.")),
	)

	h.addTool(s, cloneTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		id, err := idArg(args, "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, _ := args["name"].(string)
		if name == "" {
			return mcp.NewToolResultError(`Parameter validation failed: "name" is required. Example: {"id": "12", "name": "North depot (copy)"}`), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		d, err := sess.Dashboards().Clone(ctx, id, name)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"dashboard": summarizeDashboard(*d)})
	})
}

func pendingText(creates, updates, deletes int) string {
	return fmt.Sprintf("%d create(s), %d update(s), %d delete(s)", creates, updates, deletes)
}
