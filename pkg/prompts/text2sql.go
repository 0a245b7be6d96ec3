package prompts

import (
	"fmt"
	"strings"
)

// maxPriorQueries caps how many previously successful queries the
// generation prompt carries.
const maxPriorQueries = 3

// BuildSQLGenerationPrompt assembles the generation prompt from rendered
// schema context, an optional schema summary, recent successful queries,
// and the user's question.
func BuildSQLGenerationPrompt(schemaContext, schemaSummary string, priorQueries []string, question string) string {
	var prompt strings.Builder

	prompt.WriteString("# SQL Query Generation\n\n")
	prompt.WriteString("Write a single PostgreSQL query that answers the user's question.\n\n")

	prompt.WriteString("## Database Schema\n\n")
	if schemaContext != "" {
		prompt.WriteString(schemaContext)
		if !strings.HasSuffix(schemaContext, "\n") {
			prompt.WriteString("\n")
		}
	} else {
		prompt.WriteString("(schema information unavailable)\n")
	}
	prompt.WriteString("\n")

	if schemaSummary != "" {
		prompt.WriteString("## Schema Summary\n\n")
		prompt.WriteString(schemaSummary)
		prompt.WriteString("\n\n")
	}

	if len(priorQueries) > 0 {
		// Callers pass newest first; keep the newest when over the cap.
		recent := priorQueries
		if len(recent) > maxPriorQueries {
			recent = recent[:maxPriorQueries]
		}
		prompt.WriteString("## Previously Successful Queries\n\n")
		for i, q := range recent {
			prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, q))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(question)
	prompt.WriteString("\n\n")

	prompt.WriteString("## Requirements\n\n")
	prompt.WriteString("- Use only tables and columns that appear in the schema above\n")
	prompt.WriteString("- The query must be read-only (SELECT or WITH)\n")
	prompt.WriteString("- Prefer explicit column lists over SELECT * when few columns are needed\n\n")

	prompt.WriteString("Generate ONLY the SQL query, no explanation.\n")

	return prompt.String()
}

// BuildSQLGenerationSystemMessage returns the system message for query
// generation.
func BuildSQLGenerationSystemMessage() string {
	return `You are an expert PostgreSQL analyst. You translate natural-language questions into correct, read-only SQL queries against the provided schema.`
}

// BuildSQLExplanationPrompt asks for a one-line description of a query.
func BuildSQLExplanationPrompt(sqlQuery string) string {
	var prompt strings.Builder

	prompt.WriteString("Explain in one short sentence what this SQL query returns:\n\n")
	prompt.WriteString(sqlQuery)
	prompt.WriteString("\n\nReturn ONLY the explanation sentence, nothing else.\n")

	return prompt.String()
}

// BuildSQLExplanationSystemMessage returns the system message for query
// explanation.
func BuildSQLExplanationSystemMessage() string {
	return `You explain SQL queries to non-technical readers in plain language, one sentence at a time.`
}
