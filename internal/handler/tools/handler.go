package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/analytics"
	"github.com/FleetAI/fleet-console/internal/contextutil"
	"github.com/FleetAI/fleet-console/internal/session"
	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/paginate"
)

const defaultCacheSize = 256

var (
	errMissingAPIKey = errors.New(`missing API key: send the "FLEET-API-KEY" header or set FLEET_API_KEY`)
	errToolFailed    = errors.New("tool returned an error result")
)

// GatewayFactory builds a gateway client bound to one API key.
type GatewayFactory func(apiKey string) session.Gateway

type Options struct {
	// DefaultAPIKey is used when the request context carries no key.
	DefaultAPIKey string
	CacheSize     int
	Session       session.Options
	Tracker       analytics.Tracker
}

type Handler struct {
	logger        *zap.Logger
	newGateway    GatewayFactory
	defaultAPIKey string
	sessionOpts   session.Options
	sessions      *lru.Cache[string, *session.Session]
	sessionMutex  sync.Mutex
	tracker       analytics.Tracker
	now           func() time.Time
}

func NewHandler(log *zap.Logger, newGateway GatewayFactory, opts Options) (*Handler, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	h := &Handler{
		logger:        log,
		newGateway:    newGateway,
		defaultAPIKey: opts.DefaultAPIKey,
		sessionOpts:   opts.Session,
		tracker:       opts.Tracker,
		now:           time.Now,
	}
	if h.tracker == nil {
		h.tracker = analytics.Nop{}
	}

	cache, err := lru.NewWithEvict(size, func(_ string, s *session.Session) {
		h.logger.Debug("Evicting session")
		s.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	h.sessions = cache
	return h, nil
}

func (h *Handler) apiKey(ctx context.Context) string {
	if key, ok := contextutil.GetAPIKey(ctx); ok && key != "" {
		return key
	}
	return h.defaultAPIKey
}

// GetSession returns the session for the API key in ctx, creating it on
// first use. Sessions are cached per key and closed when evicted.
func (h *Handler) GetSession(ctx context.Context) (*session.Session, error) {
	key := h.apiKey(ctx)
	if key == "" {
		return nil, errMissingAPIKey
	}
	if s, ok := h.sessions.Get(key); ok {
		return s, nil
	}

	h.sessionMutex.Lock()
	defer h.sessionMutex.Unlock()

	// another request may have created it while we waited
	if s, ok := h.sessions.Get(key); ok {
		return s, nil
	}

	h.logger.Debug("Creating session for API key from context")
	log := h.logger.With(zap.String("user_id", analytics.UserID(key)))
	s := session.New(log, h.newGateway(key), h.sessionOpts)
	h.sessions.Add(key, s)
	return s, nil
}

// Close closes every cached session.
func (h *Handler) Close() {
	h.sessions.Purge()
}

// addTool registers fn and reports every call to the analytics tracker.
func (h *Handler) addTool(s *server.MCPServer, tool mcp.Tool, fn server.ToolHandlerFunc) {
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.logger.Debug("Tool called: " + tool.Name)
		start := time.Now()
		res, err := fn(ctx, req)

		callErr := err
		if callErr == nil && res != nil && res.IsError {
			callErr = errToolFailed
		}
		h.tracker.ToolCalled(h.apiKey(ctx), tool.Name, time.Since(start), callErr)
		return res, err
	})
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok || args == nil {
		return map[string]any{}
	}
	return args
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal response: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult turns err into a tool error. Known store errors get a hint on
// which tool to call next.
func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, errMissingAPIKey):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, store.ErrNoChanges):
		return mcp.NewToolResultError(err.Error() + ". Nothing to save.")
	case errors.Is(err, store.ErrSaveInProgress):
		return mcp.NewToolResultError(err.Error() + ". Wait for the running save to finish and retry.")
	case errors.Is(err, session.ErrReportNotSaved):
		return mcp.NewToolResultError(err.Error() + ". Call fleet_save_report first.")
	}
	return mcp.NewToolResultError(err.Error())
}

// pagedResult filters items by namePattern and pages them the way every list
// tool does.
func pagedResult[T any](args map[string]any, items []T, match func(re *regexp.Regexp, item T) bool, view func(T) any) (*mcp.CallToolResult, error) {
	limit, offset := paginate.ParseParams(args)

	var re *regexp.Regexp
	if pattern, ok := args["namePattern"].(string); ok && pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf(`Parameter validation failed: invalid "namePattern" regex: %v`, err)), nil
		}
	}

	filtered := make([]any, 0, len(items))
	for _, it := range items {
		if re != nil && !match(re, it) {
			continue
		}
		filtered = append(filtered, view(it))
	}

	resultJSON, err := paginate.Wrap(paginate.Array(filtered, offset, limit), len(filtered), offset, limit)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal response: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// RegisterAll registers every tool on s.
func (h *Handler) RegisterAll(s *server.MCPServer) {
	h.RegisterDashboardHandlers(s)
	h.RegisterWidgetHandlers(s)
	h.RegisterReportHandlers(s)
	h.RegisterSearchHandlers(s)
}
