package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FleetAI/fleet-console/internal/execution"
	"github.com/FleetAI/fleet-console/internal/session"
	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

type reportSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Dataset     string    `json:"dataset"`
	Columns     int       `json:"columns"`
	Schedules   int       `json:"schedules"`
	IsShared    bool      `json:"is_shared"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func summarizeReport(r types.Report) any {
	return reportSummary{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Dataset:     r.Dataset,
		Columns:     len(r.Config.Columns),
		Schedules:   len(r.Schedules),
		IsShared:    r.IsShared,
		UpdatedAt:   r.UpdatedAt,
	}
}

// pageView is one page of report output together with the cursor position.
type pageView struct {
	Cursor execution.State         `json:"cursor"`
	Result *types.ExecutionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Stale  bool                    `json:"stale,omitempty"`
}

func viewPage(c *execution.Cursor, err error) (*mcp.CallToolResult, error) {
	v := pageView{Cursor: c.State(), Result: c.Result()}
	if err != nil {
		if errors.Is(err, execution.ErrSuperseded) {
			return mcp.NewToolResultError("a newer page request replaced this one; call fleet_report_page to read the current page"), nil
		}
		if v.Result == nil {
			return errorResult(err), nil
		}
		v.Error = err.Error()
		v.Stale = true
	}
	return jsonResult(v)
}

type reportView struct {
	Report *types.Report `json:"report"`
	Saved  bool          `json:"saved"`
	Dirty  bool          `json:"dirty"`
	Hint   string        `json:"hint,omitempty"`
}

func viewReport(sess *session.Session, hint string) (*mcp.CallToolResult, error) {
	rs := sess.Reports()
	r := rs.Current()
	if r == nil {
		return errorResult(store.ErrNoCurrent), nil
	}
	return jsonResult(reportView{Report: r, Saved: r.ID > 0, Dirty: rs.Dirty(), Hint: hint})
}

// decodeArg decodes args[key], given as JSON or as a JSON string, into dst.
func decodeArg(args map[string]any, key string, dst any) error {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fmt.Errorf("Parameter validation failed: %q is required", key)
	}
	var b []byte
	if s, ok := raw.(string); ok {
		b = []byte(s)
	} else {
		var err error
		if b, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("invalid %q: %w", key, err)
		}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid %q: %v", key, err)
	}
	return nil
}

type reportUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Dataset     *string `json:"dataset"`
	IsShared    *bool   `json:"is_shared"`
}

const editReportDesc = `Edit the report open in the builder. Edits are local until fleet_save_report. Actions and their "value":
- update: {"name": "...", "description": "...", "dataset": "...", "is_shared": true}
- addColumn: {"field": "distance_km", "label": "Distance", "format": "0.0", "sortable": true}
- removeColumn / moveColumn: use "field" (and "to", the zero-based target index, for moveColumn)
- addFilter: {"field": "depot", "operator": "eq", "value": "north"}; operators: eq, neq, gt, gte, lt, lte, in, contains, between. Set "parameter" to let fleet_report_page override the value.
- removeFilter / removeSchedule: use "index" (zero-based)
- setSorts: [{"field": "distance_km", "direction": "desc"}]
- setGroupBy: ["depot", "vehicle_type"]
- setAggregations: [{"field": "distance_km", "function": "sum", "label": "Total km"}]; functions: count, sum, avg, min, max
- addSchedule: {"cron_expression": "0 7 * * 1", "format": "pdf", "recipients": ["ops@example.com"], "is_active": true}`

func (h *Handler) RegisterReportHandlers(s *server.MCPServer) {
	h.logger.Debug("Registering report handlers")

	listTool := mcp.NewTool("fleet_list_reports",
		mcp.WithDescription("List reports (id, name, dataset, column and schedule counts). IMPORTANT: This tool supports pagination using 'limit' and 'offset' parameters; check 'pagination.hasMore' and keep paginating with 'nextOffset' before concluding a report does not exist. Supports optional regex filtering via 'namePattern'."),
		mcp.WithString("namePattern", mcp.Description("Optional regex matched against name, description or dataset. Case-sensitive.")),
		mcp.WithString("limit", mcp.Description("Maximum number of reports to return per page. Default: 50.")),
		mcp.WithString("offset", mcp.Description("Number of results to skip. Default: 0.")),
	)

	h.addTool(s, listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Reports().LoadList(ctx); err != nil {
			return errorResult(err), nil
		}
		return pagedResult(arguments(req), sess.Reports().List(),
			func(re *regexp.Regexp, r types.Report) bool {
				return re.MatchString(r.Name) || re.MatchString(r.Description) || re.MatchString(r.Dataset)
			},
			summarizeReport)
	})

	openTool := mcp.NewTool("fleet_open_report",
		mcp.WithDescription("Open a report in the builder and execute its first page."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Report id from fleet_list_reports or fleet_search.")),
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
		r, err := sess.OpenReport(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		c, err := sess.Cursor()
		if err != nil {
			return errorResult(err), nil
		}

		out := map[string]any{"report": r}
		if _, err := c.Execute(ctx, 1); err != nil {
			out["error"] = err.Error()
		}
		out["cursor"] = c.State()
		out["result"] = c.Result()
		return jsonResult(out)
	})

	createTool := mcp.NewTool("fleet_create_report",
		mcp.WithDescription("Create a report over a dataset (see fleet_list_datasets). By default it is created on the gateway and opened. With draft=true it stays local until fleet_save_report."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Report name.")),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset name, e.g. 'trips'.")),
		mcp.WithString("description", mcp.Description("Optional description.")),
		mcp.WithBoolean("draft", mcp.Description("Open a local draft instead of creating it now. Default: false.")),
	)

	h.addTool(s, createTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		name, _ := args["name"].(string)
		dataset, _ := args["dataset"].(string)
		if name == "" || dataset == "" {
			return mcp.NewToolResultError(`Parameter validation failed: "name" and "dataset" are required. Example: {"name": "Weekly mileage", "dataset": "trips"}`), nil
		}
		description, _ := args["description"].(string)

		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if boolArg(args, "draft") {
			if _, err := sess.Reports().NewDraft(name, dataset, description); err != nil {
				return errorResult(err), nil
			}
			return viewReport(sess, "Draft opened. Add columns with fleet_edit_report, then call fleet_save_report.")
		}

		r, err := sess.Reports().Create(ctx, name, dataset, description)
		if err != nil {
			return errorResult(err), nil
		}
		if _, err := sess.OpenReport(ctx, r.ID); err != nil {
			return errorResult(err), nil
		}
		return viewReport(sess, "Report created. Add columns with fleet_edit_report.")
	})

	editTool := mcp.NewTool("fleet_edit_report",
		mcp.WithDescription(editReportDesc),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: update, addColumn, removeColumn, moveColumn, addFilter, removeFilter, setSorts, setGroupBy, setAggregations, addSchedule, removeSchedule.")),
		mcp.WithString("value", mcp.Description("JSON object or array for the action, see the tool description.")),
		mcp.WithString("field", mcp.Description("Column field for removeColumn and moveColumn.")),
		mcp.WithString("to", mcp.Description("Target index for moveColumn.")),
		mcp.WithString("index", mcp.Description("Zero-based index for removeFilter and removeSchedule.")),
	)

	h.addTool(s, editTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := editReport(sess.Reports(), args); err != nil {
			return errorResult(err), nil
		}
		return viewReport(sess, "")
	})

	saveTool := mcp.NewTool("fleet_save_report",
		mcp.WithDescription("Save the report open in the builder. A draft is created on the gateway first."),
	)

	h.addTool(s, saveTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if err := sess.Reports().Save(ctx); err != nil {
			return errorResult(err), nil
		}
		return viewReport(sess, "")
	})

	deleteTool := mcp.NewTool("fleet_delete_report",
		mcp.WithDescription("Delete a report on the gateway. If it is open, it is closed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Report id.")),
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
		if err := sess.Reports().Delete(ctx, id); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"deleted": id})
	})

	pageTool := mcp.NewTool("fleet_report_page",
		mcp.WithDescription("Page through the results of the open report. Changing pageSize or parameters returns to page 1. Executes the saved definition: call fleet_save_report first to include local edits. If the execution fails, the previous page is returned with 'stale': true."),
		mcp.WithString("page", mcp.Description("Page number, starting at 1.")),
		mcp.WithString("pageSize", mcp.Description("Rows per page, 1 to 1000. Default: 25.")),
		mcp.WithObject("parameters", mcp.Description(`Runtime parameters for filters that name one. Example: {"depot": "north"}`)),
	)

	h.addTool(s, pageTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		c, err := sess.Cursor()
		if err != nil {
			return errorResult(err), nil
		}

		switch {
		case args["parameters"] != nil:
			params, perr := objectArg(args, "parameters")
			if perr != nil {
				return mcp.NewToolResultError(perr.Error()), nil
			}
			if _, ok := args["pageSize"]; ok {
				size, perr := intArg(args, "pageSize", c.State().PageSize)
				if perr != nil {
					return mcp.NewToolResultError(perr.Error()), nil
				}
				// applied with the parameters below, on page 1
				c.Resize(size)
			}
			_, err = c.SetParameters(ctx, params)
		case args["pageSize"] != nil:
			size, perr := intArg(args, "pageSize", c.State().PageSize)
			if perr != nil {
				return mcp.NewToolResultError(perr.Error()), nil
			}
			_, err = c.SetPageSize(ctx, size)
		default:
			page, perr := intArg(args, "page", c.State().Page)
			if perr != nil {
				return mcp.NewToolResultError(perr.Error()), nil
			}
			_, err = c.SetPage(ctx, page)
		}
		return viewPage(c, err)
	})

	exportTool := mcp.NewTool("fleet_export_report",
		mcp.WithDescription("Export the open report with its current parameters. Returns the execution record; the cursor and the displayed page are unchanged."),
		mcp.WithString("format", mcp.Required(), mcp.Description("One of: csv, xlsx, pdf.")),
	)

	h.addTool(s, exportTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format, _ := arguments(req)["format"].(string)
		if format == "" {
			return mcp.NewToolResultError(`Parameter validation failed: "format" is required. One of: csv, xlsx, pdf`), nil
		}
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		c, err := sess.Cursor()
		if err != nil {
			return errorResult(err), nil
		}
		rec, err := c.Export(ctx, types.ExportFormat(format))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"execution": rec, "history": c.Executions()})
	})

	datasetsTool := mcp.NewTool("fleet_list_datasets",
		mcp.WithDescription("List datasets and their fields. Use dataset and field names in widget configs and reports."),
	)

	h.addTool(s, datasetsTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		ds, err := sess.Datasets(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"datasets": ds})
	})
}

func editReport(rs *store.ReportStore, args map[string]any) error {
	action, _ := args["action"].(string)
	switch action {
	case "update":
		var u reportUpdate
		if err := decodeArg(args, "value", &u); err != nil {
			return err
		}
		return rs.Mutate(store.ReportPatch{Name: u.Name, Description: u.Description, Dataset: u.Dataset, IsShared: u.IsShared})
	case "addColumn":
		var col types.Column
		if err := decodeArg(args, "value", &col); err != nil {
			return err
		}
		return rs.AddColumn(col)
	case "removeColumn":
		field, _ := args["field"].(string)
		return rs.RemoveColumn(field)
	case "moveColumn":
		field, _ := args["field"].(string)
		to, err := nonNegativeIntArg(args, "to", 0)
		if err != nil {
			return err
		}
		return rs.MoveColumn(field, to)
	case "addFilter":
		var f types.Filter
		if err := decodeArg(args, "value", &f); err != nil {
			return err
		}
		return rs.AddFilter(f)
	case "removeFilter":
		i, err := nonNegativeIntArg(args, "index", 0)
		if err != nil {
			return err
		}
		return rs.RemoveFilter(i)
	case "setSorts":
		var sorts []types.Sort
		if err := decodeArg(args, "value", &sorts); err != nil {
			return err
		}
		return rs.SetSorts(sorts)
	case "setGroupBy":
		var fields []string
		if err := decodeArg(args, "value", &fields); err != nil {
			return err
		}
		return rs.SetGroupBy(fields)
	case "setAggregations":
		var aggs []types.Aggregation
		if err := decodeArg(args, "value", &aggs); err != nil {
			return err
		}
		return rs.SetAggregations(aggs)
	case "addSchedule":
		var sched types.Schedule
		if err := decodeArg(args, "value", &sched); err != nil {
			return err
		}
		return rs.AddSchedule(sched)
	case "removeSchedule":
		i, err := nonNegativeIntArg(args, "index", 0)
		if err != nil {
			return err
		}
		return rs.RemoveSchedule(i)
	case "":
		return errors.New(`Parameter validation failed: "action" is required`)
	}
	return fmt.Errorf("unknown action %q. One of: update, addColumn, removeColumn, moveColumn, addFilter, removeFilter, setSorts, setGroupBy, setAggregations, addSchedule, removeSchedule", action)
}
