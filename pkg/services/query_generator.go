package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/apperrors"
	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/llm"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
	"github.com/queryglass-ai/queryglass-engine/pkg/prompts"
	sqlcheck "github.com/queryglass-ai/queryglass-engine/pkg/sql"
)

const (
	// generationTemperature keeps SQL output deterministic.
	generationTemperature = 0.1
	// explanationTemperature allows slightly looser phrasing.
	explanationTemperature = 0.3
)

var fromClausePattern = regexp.MustCompile(`(?i)\bFROM\b`)

// GeneratedQuery is one SQL candidate produced from a natural-language
// question, with a heuristic confidence estimate.
type GeneratedQuery struct {
	Query          models.SQLQuery
	Explanation    string
	Confidence     float64
	RelevantTables []string
}

// QueryGenerator turns a natural-language question into a SQL candidate.
type QueryGenerator interface {
	Generate(ctx context.Context, question string, priorQueries []string) (*GeneratedQuery, error)
}

type queryGenerator struct {
	schemaSvc  SchemaService
	retriever  SchemaRetriever
	embeddings SchemaEmbeddingService
	llm        llm.LLMClient
	cfg        config.PipelineConfig
	logger     *zap.Logger
}

// NewQueryGenerator creates a generator. The embedding service may be nil;
// retrieval then always uses keyword overlap.
func NewQueryGenerator(schemaSvc SchemaService, retriever SchemaRetriever, embeddings SchemaEmbeddingService, llmClient llm.LLMClient, cfg config.PipelineConfig, logger *zap.Logger) QueryGenerator {
	return &queryGenerator{
		schemaSvc:  schemaSvc,
		retriever:  retriever,
		embeddings: embeddings,
		llm:        llmClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// Generate builds a focused schema context, prompts the model, and
// normalizes the returned SQL. Retrieval and explanation failures degrade
// instead of aborting the attempt.
func (g *queryGenerator) Generate(ctx context.Context, question string, priorQueries []string) (*GeneratedQuery, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question is empty")
	}

	relevant := g.retrieveTables(ctx, question)

	schemaContext, err := g.retriever.GetSchemaContext(ctx, relevant)
	if err != nil {
		g.logger.Warn("Schema context rendering failed, prompting without schema", zap.Error(err))
		schemaContext = ""
	}

	summary, err := g.schemaSvc.GetSchemaSummary(ctx)
	if err != nil {
		summary = ""
	}

	prompt := prompts.BuildSQLGenerationPrompt(schemaContext, summary, priorQueries, question)

	start := time.Now()
	resp, err := g.llm.GenerateResponse(ctx, prompt, prompts.BuildSQLGenerationSystemMessage(), generationTemperature)
	if err != nil {
		observability.ObserveGeneration("error", 0, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGenerationFailed, err)
	}
	observability.ObserveGeneration("success", resp.PromptTokens, resp.CompletionTokens, time.Since(start))

	candidate := sqlcheck.Normalize(sqlcheck.StripCodeFences(resp.Content))
	if candidate == "" {
		return nil, fmt.Errorf("%w: empty sql candidate from model response", apperrors.ErrGenerationFailed)
	}

	relevantNames := make([]string, len(relevant))
	for i := range relevant {
		relevantNames[i] = relevant[i].TableName
	}

	confidence := estimateConfidence(candidate, relevantNames)
	explanation := g.explain(ctx, candidate)

	g.logger.Debug("SQL candidate generated",
		zap.Float64("confidence", confidence),
		zap.Strings("relevant_tables", relevantNames),
	)

	return &GeneratedQuery{
		Query: models.SQLQuery{
			QueryString:   candidate,
			SchemaContext: schemaContext,
			Intent:        question,
		},
		Explanation:    explanation,
		Confidence:     confidence,
		RelevantTables: relevantNames,
	}, nil
}

// retrieveTables picks relevant tables, preferring embeddings when enabled
// and falling back to keyword overlap. A failed retrieval yields an empty
// set so generation proceeds with the full schema context.
func (g *queryGenerator) retrieveTables(ctx context.Context, question string) []models.SchemaTable {
	if g.cfg.EnableEmbeddings && g.embeddings != nil {
		tables, err := g.embeddings.FindRelevantTables(ctx, question, g.cfg.EmbeddingTopK)
		if err == nil {
			return tables
		}
		g.logger.Warn("Embedding retrieval failed, falling back to keyword overlap", zap.Error(err))
	}

	tables, err := g.retriever.FindRelevantTables(ctx, question, g.cfg.RetrieverThreshold, g.cfg.RetrieverMaxTables)
	if err != nil {
		g.logger.Warn("Table retrieval failed, continuing with empty schema context", zap.Error(err))
		return nil
	}
	return tables
}

// explain asks the model for a one-sentence explanation. Failures degrade
// to an empty explanation.
func (g *queryGenerator) explain(ctx context.Context, sqlQuery string) string {
	resp, err := g.llm.GenerateResponse(ctx,
		prompts.BuildSQLExplanationPrompt(sqlQuery),
		prompts.BuildSQLExplanationSystemMessage(),
		explanationTemperature,
	)
	if err != nil {
		g.logger.Warn("SQL explanation failed, continuing without one", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// estimateConfidence scores a candidate from structural signals: a base of
// 0.5, plus 0.2 for a SELECT prefix, plus up to 0.15 for referencing the
// retrieved tables, plus 0.1 for a FROM clause, minus 0.1 when comments
// are present, clamped to [0, 1].
func estimateConfidence(sqlQuery string, relevantTables []string) float64 {
	confidence := 0.5
	upper := strings.ToUpper(strings.TrimSpace(sqlQuery))

	if strings.HasPrefix(upper, "SELECT") {
		confidence += 0.2
	}

	if len(relevantTables) > 0 {
		lower := strings.ToLower(sqlQuery)
		referenced := 0
		for _, name := range relevantTables {
			if strings.Contains(lower, strings.ToLower(name)) {
				referenced++
			}
		}
		confidence += 0.15 * float64(referenced) / float64(len(relevantTables))
	}

	if fromClausePattern.MatchString(sqlQuery) {
		confidence += 0.1
	}

	if strings.Contains(sqlQuery, "--") || strings.Contains(sqlQuery, "/*") {
		confidence -= 0.1
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// Ensure queryGenerator implements QueryGenerator at compile time.
var _ QueryGenerator = (*queryGenerator)(nil)
