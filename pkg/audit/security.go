// Package audit provides security audit logging and a bounded execution
// history for the query pipeline. Security events are logged in structured
// JSON format for easy parsing and integration with security information
// and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection
	// patterns in a query parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventUnsafeQueryBlocked is logged when a generated query is refused for
	// containing write keywords or a non read-only prefix.
	EventUnsafeQueryBlocked SecurityEventType = "unsafe_query_blocked"
	// EventSuspiciousPattern is logged when a query carries warn-only patterns
	// such as inline comments or always-true conditions.
	EventSuspiciousPattern SecurityEventType = "suspicious_pattern"
	// EventQueryExecution is logged for successful query execution (optional, can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RequestID uuid.UUID         `json:"request_id"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// UnsafeQueryDetails contains specifics of a blocked query.
type UnsafeQueryDetails struct {
	SQL      string   `json:"sql"`
	Keywords []string `json:"keywords,omitempty"`
	Reason   string   `json:"reason"`
}

// SuspiciousPatternDetails contains warn-only findings that did not block execution.
type SuspiciousPatternDetails struct {
	SQL      string   `json:"sql"`
	Warnings []string `json:"warnings"`
}

// QueryExecutionDetails contains the outcome of a successful execution.
type QueryExecutionDetails struct {
	SQL             string  `json:"sql"`
	RowCount        int     `json:"row_count"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a detected SQL injection attempt with full context.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(requestID uuid.UUID, details SQLInjectionDetails) {
	details.ParamValue = clip(details.ParamValue, models.AuditQueryPrefixLen)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		RequestID: requestID,
		Details:   details,
		Severity:  "critical",
	}

	// Serialize event to JSON for SIEM ingestion
	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogUnsafeQuery records a query refused by the safety gate.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogUnsafeQuery(requestID uuid.UUID, details UnsafeQueryDetails) {
	details.SQL = clip(details.SQL, models.AuditQueryPrefixLen)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventUnsafeQueryBlocked,
		RequestID: requestID,
		Details:   details,
		Severity:  "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Unsafe query blocked",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.Strings("keywords", details.Keywords),
		zap.String("reason", details.Reason),
		zap.String("severity", "critical"),
	)
}

// LogSuspiciousPatterns records warn-only findings on a query that was still executed.
// This is logged at WARN level as these are heuristics, not proof of an attack.
func (a *SecurityAuditor) LogSuspiciousPatterns(requestID uuid.UUID, details SuspiciousPatternDetails) {
	details.SQL = clip(details.SQL, models.AuditQueryPrefixLen)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSuspiciousPattern,
		RequestID: requestID,
		Details:   details,
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Suspicious patterns in query",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.Strings("warnings", details.Warnings),
		zap.String("severity", "warning"),
	)
}

// LogQueryExecution records a successful query execution for audit trail.
// This is logged at INFO level and can generate high log volume in production.
func (a *SecurityAuditor) LogQueryExecution(requestID uuid.UUID, sqlQuery string, rowCount int, executionTimeMS float64) {
	details := QueryExecutionDetails{
		SQL:             clip(sqlQuery, models.AuditQueryPrefixLen),
		RowCount:        rowCount,
		ExecutionTimeMS: executionTimeMS,
	}

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryExecution,
		RequestID: requestID,
		Details:   details,
		Severity:  "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.Int("row_count", rowCount),
		zap.Float64("execution_time_ms", executionTimeMS),
		zap.String("severity", "info"),
	)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
