package mcp_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/config"
	"github.com/FleetAI/fleet-console/internal/contextutil"
	"github.com/FleetAI/fleet-console/internal/handler/tools"
	"github.com/FleetAI/fleet-console/pkg/dashboard"
)

const (
	serverName    = "FleetConsoleMCP"
	serverVersion = "0.1.0"

	apiKeyHeader    = "FLEET-API-KEY"
	requestIDHeader = "X-Request-ID"
)

type MCPServer struct {
	logger  *zap.Logger
	handler *tools.Handler
	config  *config.Config
}

func NewMCPServer(log *zap.Logger, handler *tools.Handler, cfg *config.Config) *MCPServer {
	return &MCPServer{logger: log, handler: handler, config: cfg}
}

func (m *MCPServer) newServer() *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion,
		server.WithLogging(),
		server.WithToolCapabilities(false),
		server.WithInstructions(dashboard.Basics+dashboard.WidgetsInstructions),
	)
	m.handler.RegisterAll(s)
	m.logger.Info("All handlers registered successfully")
	return s
}

// Start serves until ctx is cancelled (cloud mode) or stdin closes (local
// mode).
func (m *MCPServer) Start(ctx context.Context) error {
	s := m.newServer()

	m.logger.Info("Starting Fleet Console MCP Server",
		zap.String("server_name", serverName),
		zap.String("deployment_mode", m.config.DeploymentMode))

	if m.config.DeploymentMode == config.ModeCloud {
		return m.startCloud(ctx, s)
	}
	return m.startLocal(s)
}

func (m *MCPServer) startLocal(s *server.MCPServer) error {
	m.logger.Info("MCP Server running in LOCAL mode (stdio)")
	return server.ServeStdio(s)
}

func (m *MCPServer) startCloud(ctx context.Context, s *server.MCPServer) error {
	m.logger.Info("MCP Server running in cloud hosted mode")

	addr := fmt.Sprintf(":%s", m.config.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           m.routes(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.logger.Info("Listening for MCP clients",
		zap.String("addr", addr),
		zap.String("mcp_endpoint", "/mcp"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	m.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MCPServer) routes(s *server.MCPServer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s, server.WithHTTPContextFunc(requestContext)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return otelhttp.NewHandler(mux, "mcp")
}

// requestContext copies the caller's API key and request id into the tool
// context. A request id is generated when the caller sends none.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		ctx = contextutil.SetAPIKey(ctx, key)
	}
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return contextutil.SetRequestID(ctx, id)
}
