// Package sql provides low-level SQL inspection primitives shared by the
// validation and execution stages.
package sql

import (
	"errors"
	"regexp"
	"strings"
)

// MaxQueryLength is the hard cap on query text accepted for validation.
const MaxQueryLength = 10000

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// forbiddenKeywordPattern matches write/DDL keywords that are refused
// anywhere in a query, word-bounded and case-insensitive.
var forbiddenKeywordPattern = regexp.MustCompile(
	`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|VACUUM)\b`)

// readOnlyPrefixes are the statement prefixes the executor accepts.
var readOnlyPrefixes = []string{"SELECT", "WITH", "EXPLAIN", "ANALYZE", "SHOW", "DESCRIBE"}

var (
	numericTautologyPattern = regexp.MustCompile(`(?i)\bOR\s+(\d+)\s*=\s*(\d+)\b`)
	stringTautologyPattern  = regexp.MustCompile(`(?i)\bOR\s+'([^']*)'\s*=\s*'([^']*)'`)
	unionSelectPattern      = regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`)
	codeFencePattern        = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize trims the query, strips trailing semicolons, and
// rejects anything that still contains a semicolon outside string literals.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	normalized := Normalize(sqlQuery)
	if normalized == "" {
		return ValidationResult{NormalizedSQL: normalized}
	}

	// After normalization any remaining semicolon means a second statement.
	if HasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// Normalize trims surrounding whitespace and removes every trailing
// semicolon, so "SELECT 1;;" and "SELECT 1" normalize identically.
func Normalize(sqlQuery string) string {
	sqlQuery = strings.TrimSpace(sqlQuery)
	for strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}

// StripCodeFences removes a Markdown code fence (``` or ```sql) wrapping
// model output, returning the inner text. Input without fences passes
// through trimmed.
func StripCodeFences(s string) string {
	if matches := codeFencePattern.FindStringSubmatch(s); matches != nil {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(s)
}

// HasSemicolonOutsideStrings reports whether any semicolon appears outside
// single- or double-quoted literals.
func HasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handles both backslash escape (\') and SQL doubled quote ('').
			// A doubled quote exits and immediately re-enters on the next
			// quote, which keeps the scan inside the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// HasBalancedParentheses reports whether parentheses outside string
// literals open and close in matched pairs.
func HasBalancedParentheses(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)
	depth := 0

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return false
				}
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return depth == 0
}

// HasUnclosedQuote reports whether the query ends inside a string literal.
// SQL doubled-quote escaping ('') is handled by the state machine exiting
// and re-entering per quote, which nets out to a closed string.
func HasUnclosedQuote(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return state != stateNormal
}

// FindForbiddenKeywords returns the distinct write/DDL keywords present in
// the query, uppercased, in order of first appearance. The scan covers the
// whole text including CTE bodies.
func FindForbiddenKeywords(sqlQuery string) []string {
	matches := forbiddenKeywordPattern.FindAllString(sqlQuery, -1)
	seen := make(map[string]bool)
	var keywords []string
	for _, m := range matches {
		upper := strings.ToUpper(m)
		if !seen[upper] {
			seen[upper] = true
			keywords = append(keywords, upper)
		}
	}
	return keywords
}

// HasReadOnlyPrefix reports whether the trimmed query starts with one of
// the read-only statement prefixes accepted by the executor.
func HasReadOnlyPrefix(sqlQuery string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sqlQuery))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// FindSuspiciousPatterns returns human-readable warnings for constructs
// that are legal but characteristic of injection probes. Warnings never
// reject a query on their own.
func FindSuspiciousPatterns(sqlQuery string) []string {
	var warnings []string

	if strings.Contains(sqlQuery, ";--") {
		warnings = append(warnings, "statement termination sequence ';--'")
	}
	if strings.Contains(sqlQuery, "--") {
		warnings = append(warnings, "inline comment '--'")
	}
	if strings.Contains(sqlQuery, "/*") {
		warnings = append(warnings, "block comment '/*'")
	}

	for _, m := range numericTautologyPattern.FindAllStringSubmatch(sqlQuery, -1) {
		if m[1] == m[2] {
			warnings = append(warnings, "always-true condition 'OR "+m[1]+"="+m[2]+"'")
			break
		}
	}
	for _, m := range stringTautologyPattern.FindAllStringSubmatch(sqlQuery, -1) {
		if m[1] == m[2] {
			warnings = append(warnings, "always-true condition on quoted literals")
			break
		}
	}

	if unionSelectPattern.MatchString(sqlQuery) {
		warnings = append(warnings, "UNION SELECT clause")
	}

	return warnings
}
