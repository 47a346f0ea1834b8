package client

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

func (f *Fleet) ListReports(ctx context.Context) ([]types.Report, error) {
	var out []types.Report
	if err := f.do(ctx, http.MethodGet, "/api/v1/reports", nil, nil, &out); err != nil {
		return nil, err
	}
	f.logger.Debug("Successfully retrieved reports", zap.Int("count", len(out)))
	return out, nil
}

func (f *Fleet) GetReport(ctx context.Context, id int64) (*types.Report, error) {
	var out types.Report
	if err := f.do(ctx, http.MethodGet, idPath("/api/v1/reports/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) CreateReport(ctx context.Context, in types.CreateReportInput) (*types.Report, error) {
	var out types.Report
	if err := f.do(ctx, http.MethodPost, "/api/v1/reports", nil, in, &out); err != nil {
		return nil, err
	}
	if out.ID <= 0 {
		return nil, fmt.Errorf("gateway returned invalid report id %d", out.ID)
	}
	return &out, nil
}

func (f *Fleet) UpdateReport(ctx context.Context, id int64, r types.Report) (*types.Report, error) {
	var out types.Report
	if err := f.do(ctx, http.MethodPut, idPath("/api/v1/reports/%d", id), nil, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fleet) DeleteReport(ctx context.Context, id int64) error {
	return f.do(ctx, http.MethodDelete, idPath("/api/v1/reports/%d", id), nil, nil, nil)
}

func (f *Fleet) ExecuteReport(ctx context.Context, id int64, p types.ExecuteParams) (*types.ExecutionResult, error) {
	var out types.ExecutionResult
	if err := f.do(ctx, http.MethodPost, idPath("/api/v1/reports/%d/execute", id), nil, p, &out); err != nil {
		return nil, err
	}
	f.logger.Debug("Report executed",
		zap.Int64("report_id", id),
		zap.Int("page", p.Page),
		zap.Int("rows", len(out.Data)),
		zap.Int("total_rows", out.TotalRows))
	return &out, nil
}

func (f *Fleet) ExportReport(ctx context.Context, id int64, p types.ExportParams) (*types.ExecutionRecord, error) {
	var out types.ExecutionRecord
	if err := f.do(ctx, http.MethodPost, idPath("/api/v1/reports/%d/export", id), nil, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
