package sql

import (
	"regexp"
	"strings"
)

// ParsedColumn is one entry extracted from a SELECT list.
type ParsedColumn struct {
	Name string // column name or alias
	Expr string // full source expression, e.g. "SUM(amount)"
}

var (
	asAliasPattern    = regexp.MustCompile(`\s+as\s+(\w+)\s*$`)
	funcNamePattern   = regexp.MustCompile(`^(\w+)\s*\(`)
	identCleanPattern = regexp.MustCompile(`[^\w]`)
)

// selectEndKeywords terminate the SELECT list.
var selectEndKeywords = []string{
	" from ", " where ", " group ", " order ", " limit ",
	" union ", " intersect ", " except ", ";",
}

// ParseSelectColumns extracts the output column names of a SELECT
// statement with a lightweight scanner. It handles plain columns, AS and
// implicit aliases, table qualifiers, and function calls. The parse is
// advisory: complex subqueries in the SELECT list may come out imprecise,
// and SELECT * yields no columns.
func ParseSelectColumns(sqlQuery string) []ParsedColumn {
	sqlQuery = strings.TrimSpace(sqlQuery)
	lower := strings.ToLower(sqlQuery)

	selectIdx := strings.Index(lower, "select")
	if selectIdx == -1 {
		return nil
	}

	listStart := selectIdx + len("select")
	listEnd := len(sqlQuery)
	for _, keyword := range selectEndKeywords {
		if idx := strings.Index(lower[listStart:], keyword); idx != -1 && listStart+idx < listEnd {
			listEnd = listStart + idx
		}
	}

	selectList := strings.TrimSpace(sqlQuery[listStart:listEnd])
	if strings.HasPrefix(selectList, "*") {
		return nil
	}

	var columns []ParsedColumn
	for _, expr := range splitSelectList(selectList) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		columns = append(columns, parseColumnExpression(expr))
	}
	return columns
}

// splitSelectList splits a SELECT list on commas, ignoring commas nested
// inside function-call parentheses.
func splitSelectList(selectList string) []string {
	var columns []string
	var current strings.Builder
	depth := 0

	for _, ch := range selectList {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				columns = append(columns, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		columns = append(columns, current.String())
	}
	return columns
}

// parseColumnExpression resolves one SELECT-list entry to its output name:
// an AS alias wins, then a trailing implicit alias, then the bare name.
func parseColumnExpression(expr string) ParsedColumn {
	expr = strings.TrimSpace(expr)

	if matches := asAliasPattern.FindStringSubmatch(strings.ToLower(expr)); matches != nil {
		return ParsedColumn{Name: matches[1], Expr: expr}
	}

	if alias, ok := implicitAlias(expr); ok {
		return ParsedColumn{Name: alias, Expr: expr}
	}

	return ParsedColumn{Name: extractColumnName(expr), Expr: expr}
}

// implicitAlias detects the "COUNT(*) total" form: a trailing bare word
// after a balanced expression that is not itself a SQL keyword.
func implicitAlias(expr string) (string, bool) {
	if strings.Count(expr, "(") != strings.Count(expr, ")") {
		return "", false
	}

	parts := strings.Fields(expr)
	if len(parts) < 2 {
		return "", false
	}

	last := parts[len(parts)-1]
	if strings.ContainsAny(last, "()") {
		return "", false
	}

	switch strings.ToLower(last) {
	case "from", "where", "group", "order", "limit", "and", "or", "as",
		"end", "when", "then", "else", "null", "asc", "desc":
		return "", false
	}
	return last, true
}

// extractColumnName reduces a bare expression to a plausible column name:
// table qualifiers are stripped, function calls reduce to the function
// name, CASE expressions get a placeholder.
func extractColumnName(expr string) string {
	expr = strings.TrimSpace(expr)

	if dotIdx := strings.LastIndex(expr, "."); dotIdx != -1 {
		expr = expr[dotIdx+1:]
	}

	if matches := funcNamePattern.FindStringSubmatch(expr); matches != nil {
		return strings.ToLower(matches[1])
	}

	if strings.HasPrefix(strings.ToLower(expr), "case") {
		return "case_result"
	}

	name := strings.TrimSpace(strings.Trim(expr, "`\"[]"))
	name = identCleanPattern.ReplaceAllString(name, "")
	return strings.ToLower(name)
}
