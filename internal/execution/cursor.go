package execution

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/paginate"
	"github.com/FleetAI/fleet-console/pkg/types"
)

// ErrSuperseded is returned by an execution whose result arrived after a newer
// execution was started. Its result is discarded.
var ErrSuperseded = errors.New("execution superseded by a newer request")

// Executor runs and exports reports on the gateway.
type Executor interface {
	ExecuteReport(ctx context.Context, id int64, p types.ExecuteParams) (*types.ExecutionResult, error)
	ExportReport(ctx context.Context, id int64, p types.ExportParams) (*types.ExecutionRecord, error)
}

// State is a snapshot of the cursor position.
type State struct {
	ReportID   int64          `json:"report_id"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	Parameters map[string]any `json:"parameters,omitempty"`
	TotalRows  int            `json:"total_rows"`
	TotalPages int            `json:"total_pages"`
	HasResult  bool           `json:"has_result"`
}

// Cursor pages through the results of one report. Later requests always win:
// a response that arrives after a newer request was issued is dropped.
type Cursor struct {
	logger   *zap.Logger
	exec     Executor
	tracer   trace.Tracer
	reportID int64

	mu         sync.Mutex
	page       int
	pageSize   int
	params     map[string]any
	seq        uint64
	result     *types.ExecutionResult
	lastErr    error
	executions []types.ExecutionRecord
}

func NewCursor(log *zap.Logger, exec Executor, reportID int64, pageSize int) *Cursor {
	return &Cursor{
		logger:   log,
		exec:     exec,
		tracer:   otel.Tracer("github.com/FleetAI/fleet-console/internal/execution"),
		reportID: reportID,
		page:     1,
		pageSize: paginate.NormalizePageSize(pageSize),
	}
}

func (c *Cursor) ReportID() int64 {
	return c.reportID
}

// Execute runs the report for page (1 when page <= 0) with the current page
// size and parameters. On failure the previous result is kept.
func (c *Cursor) Execute(ctx context.Context, page int) (*types.ExecutionResult, error) {
	if page <= 0 {
		page = 1
	}
	c.mu.Lock()
	c.page = page
	return c.runLocked(ctx)
}

// SetPage moves to page n and executes it.
func (c *Cursor) SetPage(ctx context.Context, n int) (*types.ExecutionResult, error) {
	return c.Execute(ctx, n)
}

// SetPageSize changes the page size, returns to the first page and executes.
func (c *Cursor) SetPageSize(ctx context.Context, n int) (*types.ExecutionResult, error) {
	c.mu.Lock()
	c.pageSize = paginate.NormalizePageSize(n)
	c.page = 1
	return c.runLocked(ctx)
}

// Resize changes the page size without executing. The next execution starts
// from page 1.
func (c *Cursor) Resize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageSize = paginate.NormalizePageSize(n)
	c.page = 1
}

// SetParameters replaces the runtime parameters, returns to the first page and
// executes.
func (c *Cursor) SetParameters(ctx context.Context, params map[string]any) (*types.ExecutionResult, error) {
	c.mu.Lock()
	c.params = maps.Clone(params)
	c.page = 1
	return c.runLocked(ctx)
}

// runLocked is entered with c.mu held and releases it before calling the
// gateway.
func (c *Cursor) runLocked(ctx context.Context) (*types.ExecutionResult, error) {
	c.seq++
	seq := c.seq
	p := types.ExecuteParams{
		Parameters: maps.Clone(c.params),
		Page:       c.page,
		PageSize:   c.pageSize,
	}
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "report.execute", trace.WithAttributes(
		attribute.Int64("report.id", c.reportID),
		attribute.Int("report.page", p.Page),
		attribute.Int("report.page_size", p.PageSize),
	))
	defer span.End()

	res, err := c.exec.ExecuteReport(ctx, c.reportID, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		c.logger.Debug("Dropping superseded report result", zap.Int64("report_id", c.reportID), zap.Int("page", p.Page))
		return nil, ErrSuperseded
	}
	if err != nil {
		c.lastErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("Report execution failed",
			zap.Int64("report_id", c.reportID),
			zap.Int("page", p.Page),
			zap.Error(err))
		return nil, fmt.Errorf("failed to execute report %d: %w", c.reportID, err)
	}
	c.lastErr = nil
	c.result = res.Clone()
	return res.Clone(), nil
}

// Export starts a one-shot export with the current parameters. It does not
// change the cursor or the displayed result.
func (c *Cursor) Export(ctx context.Context, format types.ExportFormat) (*types.ExecutionRecord, error) {
	switch format {
	case types.ExportCSV, types.ExportXLSX, types.ExportPDF:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	c.mu.Lock()
	params := maps.Clone(c.params)
	c.mu.Unlock()

	rec, err := c.exec.ExportReport(ctx, c.reportID, types.ExportParams{Format: format, Parameters: params})
	if err != nil {
		c.logger.Error("Report export failed", zap.Int64("report_id", c.reportID), zap.String("format", string(format)), zap.Error(err))
		return nil, fmt.Errorf("failed to export report %d: %w", c.reportID, err)
	}

	c.mu.Lock()
	c.executions = append([]types.ExecutionRecord{*rec}, c.executions...)
	c.mu.Unlock()
	return rec, nil
}

// Executions lists exports started from this cursor, most recent first.
func (c *Cursor) Executions() []types.ExecutionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ExecutionRecord(nil), c.executions...)
}

// Result returns a copy of the last successful result, or nil.
func (c *Cursor) Result() *types.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Clone()
}

// LastError returns the error of the latest execution when it failed.
func (c *Cursor) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		ReportID:   c.reportID,
		Page:       c.page,
		PageSize:   c.pageSize,
		Parameters: maps.Clone(c.params),
		TotalPages: 1,
	}
	if c.result != nil {
		s.HasResult = true
		s.TotalRows = c.result.TotalRows
		s.TotalPages = paginate.TotalPages(c.result.TotalRows, c.pageSize)
	}
	return s
}
