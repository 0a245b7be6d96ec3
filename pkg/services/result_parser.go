package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
)

// tabularCellMaxLen caps a rendered table cell before ellipsis truncation.
const tabularCellMaxLen = 50

// Error categories, most specific first. Categorization picks the first
// category whose markers appear in the message.
const (
	CategorySyntaxError     = "syntax_error"
	CategorySchemaError     = "schema_error"
	CategoryTimeoutError    = "timeout_error"
	CategoryConnectionError = "connection_error"
	CategoryPermissionError = "permission_error"
	CategoryUnknownError    = "unknown_error"
)

// ParsedResult is an execution result prepared for display and for LLM
// consumption: rows capped, values serialized, errors categorized.
type ParsedResult struct {
	Success         bool             `json:"success"`
	Query           string           `json:"query"`
	ColumnNames     []string         `json:"column_names,omitempty"`
	Rows            []map[string]any `json:"rows,omitempty"`
	RowCount        int              `json:"row_count"`
	DisplayedRows   int              `json:"displayed_rows"`
	Truncated       bool             `json:"truncated"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	ErrorCategory   string           `json:"error_category,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// ResultParser turns raw execution results into bounded, serializable
// structures and natural-language-ready summaries.
type ResultParser interface {
	Parse(result *models.SQLResult) *ParsedResult
	FormatForLLM(result *models.SQLResult) string
}

type resultParser struct {
	maxDisplayRows int
	maxTextLength  int
	logger         *zap.Logger
}

// NewResultParser creates a parser. Non-positive limits fall back to 100
// display rows and 5000 text characters.
func NewResultParser(maxDisplayRows, maxTextLength int, logger *zap.Logger) ResultParser {
	if maxDisplayRows <= 0 {
		maxDisplayRows = 100
	}
	if maxTextLength <= 0 {
		maxTextLength = 5000
	}
	return &resultParser{
		maxDisplayRows: maxDisplayRows,
		maxTextLength:  maxTextLength,
		logger:         logger,
	}
}

// Parse normalizes a result. Rows beyond the display cap are dropped with
// the Truncated flag set; RowCount keeps the full count.
func (p *resultParser) Parse(result *models.SQLResult) *ParsedResult {
	start := time.Now()
	defer func() {
		observability.ObserveStageDuration(observability.StageParsing, time.Since(start))
	}()

	if result == nil {
		return &ParsedResult{
			Success:       false,
			ErrorCategory: CategoryUnknownError,
			ErrorMessage:  "no result",
		}
	}

	if !result.Succeeded() {
		return &ParsedResult{
			Success:         false,
			Query:           result.Query,
			RowCount:        result.RowCount,
			ExecutionTimeMS: result.ExecutionTimeMS,
			ErrorCategory:   CategorizeError(result.ErrorMessage),
			ErrorMessage:    result.ErrorMessage,
		}
	}

	rows := result.Rows
	truncated := false
	if len(rows) > p.maxDisplayRows {
		rows = rows[:p.maxDisplayRows]
		truncated = true
	}

	displayRows := make([]map[string]any, len(rows))
	for i, row := range rows {
		display := make(map[string]any, len(row))
		for col, val := range row {
			display[col] = serializeValue(val)
		}
		displayRows[i] = display
	}

	return &ParsedResult{
		Success:         true,
		Query:           result.Query,
		ColumnNames:     result.ColumnNames,
		Rows:            displayRows,
		RowCount:        result.RowCount,
		DisplayedRows:   len(displayRows),
		Truncated:       truncated,
		ExecutionTimeMS: result.ExecutionTimeMS,
	}
}

// FormatForLLM renders a result as text for interpretation prompts,
// capped at the configured length.
func (p *resultParser) FormatForLLM(result *models.SQLResult) string {
	parsed := p.Parse(result)

	var text string
	switch {
	case !parsed.Success:
		text = fmt.Sprintf("Query failed (%s): %s %s",
			parsed.ErrorCategory, parsed.ErrorMessage, categoryGuidance(parsed.ErrorCategory))
	case parsed.RowCount == 0:
		text = "The query returned no rows."
	default:
		header := fmt.Sprintf("The query returned %d rows", parsed.RowCount)
		if parsed.Truncated {
			header += fmt.Sprintf(" (showing first %d)", parsed.DisplayedRows)
		}
		text = header + "\n\n" + renderTable(parsed.ColumnNames, parsed.Rows)
	}

	if len(text) > p.maxTextLength {
		text = text[:p.maxTextLength] + truncationMarker
	}
	return text
}

// CategorizeError maps a database error message to a category, checking
// the most specific markers first.
func CategorizeError(message string) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "syntax"):
		return CategorySyntaxError
	case containsAny(lower, "column", "relation", "table", "does not exist", "undefined"):
		return CategorySchemaError
	case containsAny(lower, "timeout", "timed out", "deadline"):
		return CategoryTimeoutError
	case containsAny(lower, "connection", "connect", "no connection available", "pool"):
		return CategoryConnectionError
	case containsAny(lower, "permission", "denied", "privilege", "not authorized"):
		return CategoryPermissionError
	default:
		return CategoryUnknownError
	}
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func categoryGuidance(category string) string {
	switch category {
	case CategorySyntaxError:
		return "The generated SQL has a syntax problem."
	case CategorySchemaError:
		return "The query references a table or column that does not exist."
	case CategoryTimeoutError:
		return "The query took too long to run."
	case CategoryConnectionError:
		return "The database connection is unavailable."
	case CategoryPermissionError:
		return "The database user lacks permission for this query."
	default:
		return "The cause could not be determined."
	}
}

// serializeValue converts a database value to a JSON-friendly form.
func serializeValue(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		if f, err := v.Float64Value(); err == nil && f.Valid {
			return f.Float64
		}
		return fmt.Sprint(v)
	case [16]byte:
		return uuid.UUID(v).String()
	case []byte:
		return string(v)
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	}
}

// renderTable renders rows as a pipe-delimited table with a separator row.
func renderTable(columns []string, rows []map[string]any) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")

	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = "---"
	}
	b.WriteString(strings.Join(separators, " | "))
	b.WriteString("\n")

	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatCell(row[col])
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCell(val any) string {
	if val == nil {
		return "NULL"
	}
	s := fmt.Sprint(val)
	if len(s) > tabularCellMaxLen {
		return s[:tabularCellMaxLen-3] + "..."
	}
	return s
}

// Ensure resultParser implements ResultParser at compile time.
var _ ResultParser = (*resultParser)(nil)
