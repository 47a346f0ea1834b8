package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func (h *Handler) RegisterSearchHandlers(s *server.MCPServer) {
	h.logger.Debug("Registering search handlers")

	searchTool := mcp.NewTool("fleet_search",
		mcp.WithDescription("Full-text search over dashboard and report names and descriptions. Tolerates small typos and matches name prefixes. Results are ordered by relevance."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text, e.g. 'fuel' or 'north depot'.")),
		mcp.WithString("kind", mcp.Description("Limit results to 'dashboard' or 'report'.")),
		mcp.WithString("limit", mcp.Description("Maximum number of results. Default: 20.")),
	)

	h.addTool(s, searchTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		text, _ := args["query"].(string)
		if text == "" {
			return mcp.NewToolResultError(`Parameter validation failed: "query" is required. Example: {"query": "fuel"}`), nil
		}
		kind, _ := args["kind"].(string)
		if kind != "" && kind != "dashboard" && kind != "report" {
			return mcp.NewToolResultError(`Parameter validation failed: "kind" must be "dashboard" or "report"`), nil
		}
		limit, err := intArg(args, "limit", 0)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sess, err := h.GetSession(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		hits, err := sess.Search(ctx, text, kind, limit)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"hits": hits, "count": len(hits)})
	})
}
