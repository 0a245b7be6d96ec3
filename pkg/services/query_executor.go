package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/audit"
	"github.com/queryglass-ai/queryglass-engine/pkg/logging"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
	sqlcheck "github.com/queryglass-ai/queryglass-engine/pkg/sql"
)

var limitClausePattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// ExecutionBackend runs a sanctioned query against the database.
// *database.Pool is the production implementation.
type ExecutionBackend interface {
	Execute(ctx context.Context, query string, params map[string]any) models.SQLResult
}

// QueryExecutor enforces the read-only policy, caps result sizes, and
// records every attempt in the execution history.
type QueryExecutor interface {
	// Execute runs one validated query. Failures of any kind surface as an
	// error-status result, never an error return or panic.
	Execute(ctx context.Context, query models.SQLQuery) models.SQLResult

	// GetExecutionHistory returns recent execution records, newest first.
	// limit <= 0 returns everything retained.
	GetExecutionHistory(limit int) []models.ExecutionRecord
}

type queryExecutor struct {
	backend ExecutionBackend
	auditor *audit.SecurityAuditor
	history *audit.History
	maxRows int
	logger  *zap.Logger
}

// NewQueryExecutor creates an executor over a backend. maxRows caps every
// result set via LIMIT injection.
func NewQueryExecutor(backend ExecutionBackend, auditor *audit.SecurityAuditor, history *audit.History, maxRows int, logger *zap.Logger) QueryExecutor {
	return &queryExecutor{
		backend: backend,
		auditor: auditor,
		history: history,
		maxRows: maxRows,
		logger:  logger,
	}
}

// Execute gates the query through the read-only policy, injects the row
// limit, and runs it. Every outcome, including refusals, lands in the
// execution history.
func (e *queryExecutor) Execute(ctx context.Context, query models.SQLQuery) (result models.SQLResult) {
	requestID := uuid.New()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Query execution panicked",
				zap.String("request_id", requestID.String()),
				zap.Any("panic", r),
			)
			result = models.ErrorResult(query.QueryString, fmt.Sprintf("internal execution failure: %v", r))
		}
		e.record(&result, start)
	}()

	sqlText := strings.TrimSpace(query.QueryString)
	if sqlText == "" {
		result = models.ErrorResult(query.QueryString, "query is empty")
		return result
	}

	if !sqlcheck.HasReadOnlyPrefix(sqlText) {
		e.auditor.LogUnsafeQuery(requestID, audit.UnsafeQueryDetails{
			SQL:    sqlText,
			Reason: "non read-only prefix",
		})
		result = models.ErrorResult(sqlText, "query rejected: only read-only statements (SELECT, WITH, EXPLAIN, ANALYZE, SHOW, DESCRIBE) are allowed")
		return result
	}

	if keywords := sqlcheck.FindForbiddenKeywords(sqlText); len(keywords) > 0 {
		e.auditor.LogUnsafeQuery(requestID, audit.UnsafeQueryDetails{
			SQL:      sqlText,
			Keywords: keywords,
			Reason:   "forbidden keywords present",
		})
		result = models.ErrorResult(sqlText, fmt.Sprintf("query rejected: forbidden keywords present: %s", strings.Join(keywords, ", ")))
		return result
	}

	if warnings := sqlcheck.FindSuspiciousPatterns(sqlText); len(warnings) > 0 {
		e.auditor.LogSuspiciousPatterns(requestID, audit.SuspiciousPatternDetails{
			SQL:      sqlText,
			Warnings: warnings,
		})
	}

	if hits := sqlcheck.CheckAllParameters(query.Parameters); len(hits) > 0 {
		for _, hit := range hits {
			e.auditor.LogInjectionAttempt(requestID, audit.SQLInjectionDetails{
				ParamName:   hit.ParamName,
				ParamValue:  fmt.Sprint(hit.ParamValue),
				Fingerprint: hit.Fingerprint,
			})
		}
		result = models.ErrorResult(sqlText, fmt.Sprintf("query rejected: parameter %q failed injection screening", hits[0].ParamName))
		return result
	}

	limited := AddResultLimit(sqlText, e.maxRows)
	e.logger.Debug("Executing query",
		zap.String("request_id", requestID.String()),
		zap.String("query", logging.SanitizeQuery(limited)),
	)

	result = e.backend.Execute(ctx, limited, query.Parameters)
	if result.Succeeded() {
		e.auditor.LogQueryExecution(requestID, limited, result.RowCount, result.ExecutionTimeMS)
	}
	return result
}

// record appends the attempt to the history ring and updates metrics.
func (e *queryExecutor) record(result *models.SQLResult, start time.Time) {
	e.history.Append(models.NewExecutionRecord(result))
	observability.ObserveExecution(result.Status, result.RowCount, time.Since(start))
}

func (e *queryExecutor) GetExecutionHistory(limit int) []models.ExecutionRecord {
	records := e.history.Records()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// AddResultLimit caps the number of rows a query can return. An existing
// LIMIT above maxRows is lowered in place; one at or below it is kept; a
// query without LIMIT gets one appended before any trailing semicolon.
// maxRows <= 0 disables the cap. The function is idempotent.
func AddResultLimit(sqlQuery string, maxRows int) string {
	if maxRows <= 0 {
		return sqlQuery
	}

	if m := limitClausePattern.FindStringSubmatchIndex(sqlQuery); m != nil {
		n, err := strconv.Atoi(sqlQuery[m[2]:m[3]])
		if err == nil && n > maxRows {
			return sqlQuery[:m[2]] + strconv.Itoa(maxRows) + sqlQuery[m[3]:]
		}
		return sqlQuery
	}

	trimmed := strings.TrimSpace(sqlQuery)
	if strings.HasSuffix(trimmed, ";") {
		body := strings.TrimRight(strings.TrimSuffix(trimmed, ";"), " \t\n")
		return fmt.Sprintf("%s LIMIT %d;", body, maxRows)
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
}

// Ensure queryExecutor implements QueryExecutor at compile time.
var _ QueryExecutor = (*queryExecutor)(nil)
