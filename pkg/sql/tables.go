package sql

import (
	"regexp"
	"strings"
)

var (
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+("?[a-zA-Z_][\w$]*"?(?:\."?[a-zA-Z_][\w$]*"?)?)`)
	cteNamePattern  = regexp.MustCompile(`(?i)\b(?:WITH\s+(?:RECURSIVE\s+)?|,\s*)([a-zA-Z_]\w*)\s+AS\s*\(`)
)

// ExtractTableReferences returns the distinct identifiers named after FROM
// and JOIN keywords, in order of first appearance. Quotes are stripped;
// derived tables (FROM followed by a subquery) are not matched.
func ExtractTableReferences(sqlQuery string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]bool)
	var tables []string

	for _, m := range matches {
		name := strings.ReplaceAll(m[1], `"`, "")
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			tables = append(tables, name)
		}
	}
	return tables
}

// ExtractCTENames returns the names defined in a WITH clause. Callers
// treat these as known relations when checking table references.
func ExtractCTENames(sqlQuery string) []string {
	matches := cteNamePattern.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]bool)
	var names []string

	for _, m := range matches {
		key := strings.ToLower(m[1])
		if !seen[key] {
			seen[key] = true
			names = append(names, m[1])
		}
	}
	return names
}
