package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
	sqlcheck "github.com/queryglass-ai/queryglass-engine/pkg/sql"
)

// plainColumnPattern matches bare column references, optionally qualified,
// as opposed to expressions and function calls.
var plainColumnPattern = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)?$`)

// ValidationReport accumulates findings from all validation passes.
// Errors make the query unusable; warnings are advisory.
type ValidationReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// QueryValidator checks a SQL candidate before execution. The error return
// is reserved for infrastructure failures; findings go in the report.
type QueryValidator interface {
	Validate(ctx context.Context, sqlQuery string) (*ValidationReport, error)
}

type validationService struct {
	schemaSvc SchemaService
	logger    *zap.Logger
}

// NewQueryValidator creates a validator that checks syntax, schema
// compatibility, and safety in that order.
func NewQueryValidator(schemaSvc SchemaService, logger *zap.Logger) QueryValidator {
	return &validationService{
		schemaSvc: schemaSvc,
		logger:    logger,
	}
}

// Validate runs all three passes unconditionally and accumulates their
// findings, so one report carries everything wrong with the candidate.
func (v *validationService) Validate(ctx context.Context, sqlQuery string) (*ValidationReport, error) {
	start := time.Now()
	defer func() {
		observability.ObserveStageDuration(observability.StageValidation, time.Since(start))
	}()

	report := &ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
	}

	trimmed := strings.TrimSpace(sqlQuery)

	before := len(report.Errors)
	v.checkSyntax(trimmed, report)
	if len(report.Errors) > before {
		observability.IncrementValidationFailure("syntax")
	}

	before = len(report.Errors)
	v.checkSchemaCompatibility(ctx, trimmed, report)
	if len(report.Errors) > before {
		observability.IncrementValidationFailure("schema")
	}

	before = len(report.Errors)
	v.checkSafety(trimmed, report)
	if len(report.Errors) > before {
		observability.IncrementValidationFailure("safety")
	}

	report.IsValid = len(report.Errors) == 0
	if !report.IsValid {
		v.logger.Warn("Query failed validation",
			zap.Strings("errors", report.Errors),
			zap.Strings("warnings", report.Warnings),
		)
	}

	return report, nil
}

// checkSyntax covers structural problems that make deeper checks pointless.
func (v *validationService) checkSyntax(sqlQuery string, report *ValidationReport) {
	if sqlQuery == "" {
		report.Errors = append(report.Errors, "query is empty")
		return
	}

	upper := strings.ToUpper(sqlQuery)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		report.Errors = append(report.Errors, "query must start with SELECT or WITH")
	}

	if !sqlcheck.HasBalancedParentheses(sqlQuery) {
		report.Errors = append(report.Errors, "unbalanced parentheses")
	}

	if sqlcheck.HasUnclosedQuote(sqlQuery) {
		report.Errors = append(report.Errors, "unbalanced single quotes")
	}

	if res := sqlcheck.ValidateAndNormalize(sqlQuery); errors.Is(res.Error, sqlcheck.ErrMultipleStatements) {
		report.Errors = append(report.Errors, "multiple SQL statements are not allowed")
	}
}

// checkSchemaCompatibility verifies table references against the snapshot.
// CTE names count as known relations. Column checks are advisory only
// because expression parsing is heuristic.
func (v *validationService) checkSchemaCompatibility(ctx context.Context, sqlQuery string, report *ValidationReport) {
	if sqlQuery == "" {
		return
	}

	schema, err := v.schemaSvc.GetSchema(ctx, true, false)
	if err != nil {
		v.logger.Warn("Schema unavailable during validation", zap.Error(err))
		report.Warnings = append(report.Warnings, "schema unavailable; table references not checked")
		return
	}

	known := make(map[string]struct{}, len(schema.Tables))
	for i := range schema.Tables {
		known[strings.ToLower(schema.Tables[i].TableName)] = struct{}{}
	}
	for _, cte := range sqlcheck.ExtractCTENames(sqlQuery) {
		known[strings.ToLower(cte)] = struct{}{}
	}

	var referencedTables []*models.SchemaTable
	for _, ref := range sqlcheck.ExtractTableReferences(sqlQuery) {
		name := ref
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if _, ok := known[strings.ToLower(name)]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("unknown table: %s", ref))
			continue
		}
		if table := schema.Table(name); table != nil {
			referencedTables = append(referencedTables, table)
		}
	}

	if len(referencedTables) == 0 {
		return
	}

	for _, col := range sqlcheck.ParseSelectColumns(sqlQuery) {
		if !plainColumnPattern.MatchString(col.Expr) {
			continue
		}
		name := col.Name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		found := false
		for _, table := range referencedTables {
			if table.HasColumn(name) {
				found = true
				break
			}
		}
		if !found {
			report.Warnings = append(report.Warnings, fmt.Sprintf("column %q not found in referenced tables (heuristic check)", name))
		}
	}
}

// checkSafety enforces the length cap and keyword policy.
func (v *validationService) checkSafety(sqlQuery string, report *ValidationReport) {
	if len(sqlQuery) > sqlcheck.MaxQueryLength {
		report.Errors = append(report.Errors, fmt.Sprintf("query exceeds maximum length of %d characters", sqlcheck.MaxQueryLength))
	}

	if keywords := sqlcheck.FindForbiddenKeywords(sqlQuery); len(keywords) > 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("forbidden keywords present: %s", strings.Join(keywords, ", ")))
	}

	report.Warnings = append(report.Warnings, sqlcheck.FindSuspiciousPatterns(sqlQuery)...)
}

// Ensure validationService implements QueryValidator at compile time.
var _ QueryValidator = (*validationService)(nil)
