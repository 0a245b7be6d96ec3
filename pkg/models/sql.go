package models

import "time"

// Execution status values carried by SQLResult.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Truncation limits applied to audit records.
const (
	AuditQueryPrefixLen = 200
	AuditErrorPrefixLen = 100
)

// SQLQuery is an immutable value object describing one query to execute.
type SQLQuery struct {
	QueryString   string         `json:"query_string"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	SchemaContext string         `json:"schema_context,omitempty"`
	Intent        string         `json:"intent,omitempty"` // originating natural-language fragment
}

// SQLResult is the normalized outcome of one execution attempt.
// Query-level failures are reported through Status/ErrorMessage, never panics.
type SQLResult struct {
	Query           string           `json:"query"`
	Rows            []map[string]any `json:"rows"`
	ColumnNames     []string         `json:"column_names"`
	ColumnTypes     []string         `json:"column_types,omitempty"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	Status          string           `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// Succeeded reports whether the execution completed without error.
func (r *SQLResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorResult builds an error-status SQLResult for the given query text.
func ErrorResult(query, message string) SQLResult {
	return SQLResult{
		Query:        query,
		Rows:         []map[string]any{},
		ColumnNames:  []string{},
		Status:       StatusError,
		ErrorMessage: message,
	}
}

// ExecutionRecord is a truncated audit entry for one execution.
type ExecutionRecord struct {
	Query           string    `json:"query"` // first 200 chars
	Status          string    `json:"status"`
	RowCount        int       `json:"row_count"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"` // first 100 chars, empty on success
}

// NewExecutionRecord derives a bounded audit record from an execution result.
func NewExecutionRecord(result *SQLResult) ExecutionRecord {
	return ExecutionRecord{
		Query:           truncate(result.Query, AuditQueryPrefixLen),
		Status:          result.Status,
		RowCount:        result.RowCount,
		ExecutionTimeMS: result.ExecutionTimeMS,
		Timestamp:       time.Now().UTC(),
		Error:           truncate(result.ErrorMessage, AuditErrorPrefixLen),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
