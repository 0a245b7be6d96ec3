package audit

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger, recorded
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	requestID := uuid.New()
	details := SQLInjectionDetails{
		ParamName:   "search",
		ParamValue:  "'; DROP TABLE users--",
		Fingerprint: "s&1c",
	}

	auditor.LogInjectionAttempt(requestID, details)

	logs := recorded.All()
	require.Len(t, logs, 1, "Expected exactly one log entry")

	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level, "Should log at ERROR level")
	assert.Equal(t, "SQL injection attempt detected", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, requestID.String(), fields["request_id"])
	assert.Equal(t, "search", fields["param_name"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, "critical", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok, "event_json should be a string")

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err, "event_json should be valid JSON")

	assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
	assert.Equal(t, requestID, event.RequestID)
	assert.Equal(t, "critical", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok, "Details should be a map")
	assert.Equal(t, "search", detailsMap["param_name"])
	assert.Equal(t, "'; DROP TABLE users--", detailsMap["param_value"])
	assert.Equal(t, "s&1c", detailsMap["fingerprint"])
}

func TestLogUnsafeQuery(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	requestID := uuid.New()
	details := UnsafeQueryDetails{
		SQL:      "DROP TABLE users",
		Keywords: []string{"DROP"},
		Reason:   "forbidden keywords present",
	}

	auditor.LogUnsafeQuery(requestID, details)

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level, "Should log at ERROR level")
	assert.Equal(t, "Unsafe query blocked", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, requestID.String(), fields["request_id"])
	assert.Equal(t, []any{"DROP"}, fields["keywords"])
	assert.Equal(t, "forbidden keywords present", fields["reason"])
	assert.Equal(t, "critical", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventUnsafeQueryBlocked, event.EventType)
	assert.Equal(t, "critical", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "DROP TABLE users", detailsMap["sql"])
}

func TestLogUnsafeQuery_TruncatesLongSQL(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	longSQL := "SELECT " + strings.Repeat("x", 500)
	auditor.LogUnsafeQuery(uuid.New(), UnsafeQueryDetails{SQL: longSQL, Reason: "test"})

	logs := recorded.All()
	require.Len(t, logs, 1)

	eventJSON := logs[0].ContextMap()["event_json"].(string)
	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(eventJSON), &event))

	detailsMap := event.Details.(map[string]any)
	assert.Len(t, detailsMap["sql"], 200)
}

func TestLogSuspiciousPatterns(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	requestID := uuid.New()
	details := SuspiciousPatternDetails{
		SQL:      "SELECT * FROM users WHERE id = 1 OR 1=1 -- trailing",
		Warnings: []string{"always-true condition 'OR n=n'", "inline comment '--'"},
	}

	auditor.LogSuspiciousPatterns(requestID, details)

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level, "Should log at WARN level")
	assert.Equal(t, "Suspicious patterns in query", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, requestID.String(), fields["request_id"])
	assert.Equal(t, "warning", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventSuspiciousPattern, event.EventType)
	assert.Equal(t, "warning", event.Severity)
}

func TestLogQueryExecution(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	requestID := uuid.New()
	auditor.LogQueryExecution(requestID, "SELECT * FROM orders LIMIT 1000", 42, 12.5)

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level, "Should log at INFO level")
	assert.Equal(t, "Query executed", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, requestID.String(), fields["request_id"])
	assert.Equal(t, int64(42), fields["row_count"])
	assert.Equal(t, 12.5, fields["execution_time_ms"])
	assert.Equal(t, "info", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventQueryExecution, event.EventType)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM orders LIMIT 1000", detailsMap["sql"])
	assert.Equal(t, float64(42), detailsMap["row_count"]) // JSON numbers are float64
}

func TestMultipleInjectionAttempts(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	attempts := []struct {
		requestID uuid.UUID
		param     string
		value     string
		fp        string
	}{
		{uuid.New(), "search", "' OR '1'='1", "o1o"},
		{uuid.New(), "filter", "1; DELETE FROM users", "s&1c"},
		{uuid.New(), "id", "1 UNION SELECT * FROM passwords", "s&1UE"},
	}

	for _, att := range attempts {
		auditor.LogInjectionAttempt(att.requestID, SQLInjectionDetails{
			ParamName:   att.param,
			ParamValue:  att.value,
			Fingerprint: att.fp,
		})
	}

	logs := recorded.All()
	require.Len(t, logs, 3, "Should have logged all three attempts")

	for i, entry := range logs {
		assert.Equal(t, zapcore.ErrorLevel, entry.Level)
		fields := entry.ContextMap()
		assert.Equal(t, attempts[i].requestID.String(), fields["request_id"])
		assert.Equal(t, attempts[i].param, fields["param_name"])
	}
}

func TestSecurityEventSerialization(t *testing.T) {
	tests := []struct {
		name      string
		eventType SecurityEventType
		severity  string
		details   any
	}{
		{
			name:      "injection attempt",
			eventType: EventSQLInjectionAttempt,
			severity:  "critical",
			details: SQLInjectionDetails{
				ParamName:   "test",
				ParamValue:  "test value",
				Fingerprint: "abc",
			},
		},
		{
			name:      "unsafe query",
			eventType: EventUnsafeQueryBlocked,
			severity:  "critical",
			details: UnsafeQueryDetails{
				SQL:      "TRUNCATE audit_log",
				Keywords: []string{"TRUNCATE"},
				Reason:   "forbidden keywords present",
			},
		},
		{
			name:      "suspicious pattern",
			eventType: EventSuspiciousPattern,
			severity:  "warning",
			details: SuspiciousPatternDetails{
				SQL:      "SELECT 1 -- x",
				Warnings: []string{"inline comment '--'"},
			},
		},
		{
			name:      "query execution",
			eventType: EventQueryExecution,
			severity:  "info",
			details: QueryExecutionDetails{
				SQL:             "SELECT 1",
				RowCount:        1,
				ExecutionTimeMS: 0.4,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := SecurityEvent{
				EventType: tt.eventType,
				RequestID: uuid.New(),
				Details:   tt.details,
				Severity:  tt.severity,
			}

			jsonBytes, err := json.Marshal(event)
			require.NoError(t, err)

			var decoded SecurityEvent
			err = json.Unmarshal(jsonBytes, &decoded)
			require.NoError(t, err)

			assert.Equal(t, event.EventType, decoded.EventType)
			assert.Equal(t, event.RequestID, decoded.RequestID)
			assert.Equal(t, event.Severity, decoded.Severity)
		})
	}
}

func TestLoggerNamespace(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogInjectionAttempt(uuid.New(), SQLInjectionDetails{
		ParamName:   "test",
		ParamValue:  "test",
		Fingerprint: "abc",
	})

	logs := recorded.All()
	require.Len(t, logs, 1)

	assert.Equal(t, "security_audit", logs[0].LoggerName)
}
