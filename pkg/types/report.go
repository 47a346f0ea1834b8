package types

import "time"

type FilterOperator string

const (
	OpEq       FilterOperator = "eq"
	OpNeq      FilterOperator = "neq"
	OpGt       FilterOperator = "gt"
	OpGte      FilterOperator = "gte"
	OpLt       FilterOperator = "lt"
	OpLte      FilterOperator = "lte"
	OpIn       FilterOperator = "in"
	OpContains FilterOperator = "contains"
	OpBetween  FilterOperator = "between"
)

type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
	ExportPDF  ExportFormat = "pdf"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Report is a saved tabular query definition over one dataset.
type Report struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description,omitempty" validate:"max=2000"`
	Dataset     string       `json:"dataset" validate:"required"`
	Config      ReportConfig `json:"config"`
	IsShared    bool         `json:"is_shared"`
	Schedules   []Schedule   `json:"schedules,omitempty" validate:"dive"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

type ReportConfig struct {
	Columns      []Column      `json:"columns" validate:"dive"`
	Filters      []Filter      `json:"filters,omitempty" validate:"dive"`
	Sorts        []Sort        `json:"sort,omitempty" validate:"dive"`
	GroupBy      []string      `json:"group_by,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty" validate:"dive"`
}

type Column struct {
	Field    string `json:"field" validate:"required"`
	Label    string `json:"label,omitempty"`
	Format   string `json:"format,omitempty"`
	Sortable bool   `json:"sortable"`
}

type Filter struct {
	Field    string         `json:"field" validate:"required"`
	Operator FilterOperator `json:"operator" validate:"required,oneof=eq neq gt gte lt lte in contains between"`
	Value    any            `json:"value,omitempty"`
	// Parameter names a runtime parameter that overrides Value at execution.
	Parameter string `json:"parameter,omitempty"`
}

type Sort struct {
	Field     string        `json:"field" validate:"required"`
	Direction SortDirection `json:"direction" validate:"required,oneof=asc desc"`
}

type Aggregation struct {
	Field    string        `json:"field" validate:"required"`
	Function AggregateFunc `json:"function" validate:"required,oneof=count sum avg min max"`
	Label    string        `json:"label,omitempty"`
}

type Schedule struct {
	ID         int64        `json:"id,omitempty"`
	Cron       string       `json:"cron_expression" validate:"required"`
	Format     ExportFormat `json:"format" validate:"required,oneof=csv xlsx pdf"`
	Recipients []string     `json:"recipients" validate:"required,min=1,dive,email"`
	Active     bool         `json:"is_active"`
}

func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Config = r.Config.Clone()
	if r.Schedules != nil {
		c.Schedules = make([]Schedule, len(r.Schedules))
		for i, s := range r.Schedules {
			s.Recipients = append([]string(nil), s.Recipients...)
			c.Schedules[i] = s
		}
	}
	return &c
}

func (c ReportConfig) Clone() ReportConfig {
	out := ReportConfig{}
	if c.Columns != nil {
		out.Columns = append([]Column(nil), c.Columns...)
	}
	if c.Filters != nil {
		out.Filters = append([]Filter(nil), c.Filters...)
	}
	if c.Sorts != nil {
		out.Sorts = append([]Sort(nil), c.Sorts...)
	}
	if c.GroupBy != nil {
		out.GroupBy = append([]string(nil), c.GroupBy...)
	}
	if c.Aggregations != nil {
		out.Aggregations = append([]Aggregation(nil), c.Aggregations...)
	}
	return out
}

// HasColumn reports whether a column with the given field is selected.
func (c ReportConfig) HasColumn(field string) bool {
	for _, col := range c.Columns {
		if col.Field == field {
			return true
		}
	}
	return false
}

type CreateReportInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Dataset     string       `json:"dataset"`
	Config      ReportConfig `json:"config"`
}

// ExecuteParams is the body of a report execution.
type ExecuteParams struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// ExecutionResult is one page of report output. It is replaced wholesale on
// every execution.
type ExecutionResult struct {
	Columns      []Column         `json:"columns"`
	Data         []map[string]any `json:"data"`
	TotalRows    int              `json:"total_rows"`
	Aggregations map[string]any   `json:"aggregations,omitempty"`
}

func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Columns = append([]Column(nil), r.Columns...)
	c.Data = append([]map[string]any(nil), r.Data...)
	if r.Aggregations != nil {
		c.Aggregations = make(map[string]any, len(r.Aggregations))
		for k, v := range r.Aggregations {
			c.Aggregations[k] = v
		}
	}
	return &c
}

type ExportParams struct {
	Format     ExportFormat   `json:"format"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ExecutionRecord tracks one export run on the gateway.
type ExecutionRecord struct {
	ID        int64        `json:"id"`
	ReportID  int64        `json:"report_id"`
	Status    string       `json:"status"`
	Format    ExportFormat `json:"format"`
	FilePath  string       `json:"file_path,omitempty"`
	RowCount  int          `json:"row_count"`
	Error     string       `json:"error_message,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}
