package models

import "time"

// QueryRequest is one natural-language question submitted to the pipeline.
type QueryRequest struct {
	Question     string   `json:"question"`
	PriorQueries []string `json:"prior_queries,omitempty"` // recent successful SQL, newest first
}

// QueryResponse is the uniform pipeline response. Every invocation returns
// one of these; callers distinguish success from failure by inspecting
// QueryResult.Status, Confidence, and GeneratedSQL, never by catching errors.
type QueryResponse struct {
	OriginalQuery  string     `json:"original_query"`
	GeneratedSQL   string     `json:"generated_sql"`
	SQLExplanation string     `json:"sql_explanation"`
	QueryResult    *SQLResult `json:"query_result,omitempty"`
	Interpretation string     `json:"interpretation"`
	Confidence     float64    `json:"confidence"`
	GeneratedAt    time.Time  `json:"generated_at"`
}
