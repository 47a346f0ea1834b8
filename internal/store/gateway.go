package store

import (
	"context"
	"errors"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// DashboardGateway is the slice of the remote gateway the dashboard store needs.
type DashboardGateway interface {
	ListDashboards(ctx context.Context, pageSize int) ([]types.Dashboard, error)
	GetDashboard(ctx context.Context, id int64) (*types.Dashboard, error)
	CreateDashboard(ctx context.Context, in types.CreateDashboardInput) (*types.Dashboard, error)
	UpdateDashboard(ctx context.Context, id int64, patch types.DashboardUpdate) (*types.Dashboard, error)
	DeleteDashboard(ctx context.Context, id int64) error
	CloneDashboard(ctx context.Context, id int64, newName string) (*types.Dashboard, error)
	AddWidget(ctx context.Context, dashboardID int64, w types.Widget) (*types.Widget, error)
	UpdateWidget(ctx context.Context, dashboardID, widgetID int64, w types.Widget) (*types.Widget, error)
	DeleteWidget(ctx context.Context, dashboardID, widgetID int64) error
}

// ReportGateway is the slice of the remote gateway the report store needs.
type ReportGateway interface {
	ListReports(ctx context.Context) ([]types.Report, error)
	GetReport(ctx context.Context, id int64) (*types.Report, error)
	CreateReport(ctx context.Context, in types.CreateReportInput) (*types.Report, error)
	UpdateReport(ctx context.Context, id int64, r types.Report) (*types.Report, error)
	DeleteReport(ctx context.Context, id int64) error
}

var (
	ErrNoCurrent       = errors.New("no entity is open")
	ErrNoChanges       = errors.New("no unsaved changes")
	ErrSaveInProgress  = errors.New("save already in progress")
	ErrWidgetNotFound  = errors.New("widget not found")
	ErrNotFound        = errors.New("entity not found")
	ErrDuplicateColumn = errors.New("duplicate column field")
	ErrColumnNotFound  = errors.New("column not found")
)

// Listener is notified after store state changes, outside the store lock.
// All methods receive copies.
type Listener interface {
	DashboardLoaded(d *types.Dashboard)
	DashboardClosed()
	WidgetChanged(dashboardID int64, w types.Widget)
	WidgetRemoved(widgetID int64)
	WidgetReconciled(dashboardID, tempID int64, w types.Widget)
	WidgetSaved(dashboardID int64, w types.Widget)
	ReportLoaded(r *types.Report)
	ReportClosed()
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) DashboardLoaded(*types.Dashboard)            {}
func (NopListener) DashboardClosed()                            {}
func (NopListener) WidgetChanged(int64, types.Widget)           {}
func (NopListener) WidgetRemoved(int64)                         {}
func (NopListener) WidgetReconciled(int64, int64, types.Widget) {}
func (NopListener) WidgetSaved(int64, types.Widget)             {}
func (NopListener) ReportLoaded(*types.Report)                  {}
func (NopListener) ReportClosed()                               {}
