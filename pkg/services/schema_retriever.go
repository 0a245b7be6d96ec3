package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/models"
)

// keywordPattern extracts candidate identifiers from a natural-language
// question.
var keywordPattern = regexp.MustCompile(`[a-z0-9_]+`)

// SchemaRetriever narrows the schema down to the tables relevant to a
// question before prompt construction.
type SchemaRetriever interface {
	// FindRelevantTables scores every table against the question keywords
	// and returns the top matches at or above threshold, best first.
	FindRelevantTables(ctx context.Context, query string, threshold float64, maxTables int) ([]models.SchemaTable, error)

	// GetSchemaContext renders the given tables for prompt inclusion. An
	// empty slice falls back to the full schema.
	GetSchemaContext(ctx context.Context, relevantTables []models.SchemaTable) (string, error)
}

type schemaRetriever struct {
	schemaSvc SchemaService
	logger    *zap.Logger
}

// NewSchemaRetriever creates a keyword-overlap retriever over the schema
// service.
func NewSchemaRetriever(schemaSvc SchemaService, logger *zap.Logger) SchemaRetriever {
	return &schemaRetriever{
		schemaSvc: schemaSvc,
		logger:    logger,
	}
}

func (r *schemaRetriever) FindRelevantTables(ctx context.Context, query string, threshold float64, maxTables int) ([]models.SchemaTable, error) {
	schema, err := r.schemaSvc.GetSchema(ctx, true, false)
	if err != nil {
		return nil, fmt.Errorf("load schema for retrieval: %w", err)
	}

	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	type scoredTable struct {
		table models.SchemaTable
		score float64
	}

	scored := make([]scoredTable, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		score := scoreTable(&table, keywords)
		if score >= threshold {
			scored = append(scored, scoredTable{table: table, score: score})
		}
	}

	// Stable sort keeps snapshot order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if maxTables > 0 && len(scored) > maxTables {
		scored = scored[:maxTables]
	}

	tables := make([]models.SchemaTable, len(scored))
	names := make([]string, len(scored))
	for i, st := range scored {
		tables[i] = st.table
		names[i] = st.table.TableName
	}

	r.logger.Debug("Relevant tables selected",
		zap.Strings("keywords", keywords),
		zap.Strings("tables", names),
		zap.Float64("threshold", threshold),
	)

	return tables, nil
}

func (r *schemaRetriever) GetSchemaContext(ctx context.Context, relevantTables []models.SchemaTable) (string, error) {
	if len(relevantTables) == 0 {
		schema, err := r.schemaSvc.GetSchema(ctx, true, false)
		if err != nil {
			return "", fmt.Errorf("load schema for context: %w", err)
		}
		return renderSchemaContext(schema.Tables, 0), nil
	}
	return renderSchemaContext(relevantTables, 0), nil
}

// extractKeywords lowercases the question, tokenizes it, and deduplicates
// the tokens preserving first-appearance order. Single-character tokens
// are noise and get dropped.
func extractKeywords(query string) []string {
	tokens := keywordPattern.FindAllString(strings.ToLower(query), -1)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// scoreTable counts, per keyword, whether the table name matches (weight 2)
// and whether any column matches (weight 1), then normalizes by keyword
// count plus one.
func scoreTable(table *models.SchemaTable, keywords []string) float64 {
	tableNameMatches := 0
	columnMatches := 0

	for _, kw := range keywords {
		if keywordMatches(kw, table.TableName) {
			tableNameMatches++
		}
		for _, col := range table.Columns {
			if keywordMatches(kw, col) {
				columnMatches++
				break
			}
		}
	}

	return float64(2*tableNameMatches+columnMatches) / float64(len(keywords)+1)
}

// keywordMatches compares a keyword against an identifier after
// singularizing both, accepting a substring hit in either direction.
func keywordMatches(keyword, identifier string) bool {
	kw := inflection.Singular(strings.ToLower(keyword))
	id := inflection.Singular(strings.ToLower(identifier))
	if kw == "" || id == "" {
		return false
	}
	return strings.Contains(id, kw) || strings.Contains(kw, id)
}

// Ensure schemaRetriever implements SchemaRetriever at compile time.
var _ SchemaRetriever = (*schemaRetriever)(nil)
