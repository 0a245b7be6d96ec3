package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
)

// recentQueryMemory caps how many successful queries the pipeline carries
// into subsequent prompts.
const recentQueryMemory = 3

// Text2SQLService is the full natural-language-to-SQL pipeline. ProcessQuery
// always returns a response, never an error; failures are reported inside
// the response.
type Text2SQLService interface {
	ProcessQuery(ctx context.Context, request *models.QueryRequest) *models.QueryResponse
}

type text2SQLService struct {
	generator QueryGenerator
	validator QueryValidator
	executor  QueryExecutor
	parser    ResultParser
	cfg       config.PipelineConfig
	logger    *zap.Logger

	mu            sync.Mutex
	recentQueries []string // newest first
}

// NewText2SQLService wires the pipeline stages together.
func NewText2SQLService(generator QueryGenerator, validator QueryValidator, executor QueryExecutor, parser ResultParser, cfg config.PipelineConfig, logger *zap.Logger) Text2SQLService {
	return &text2SQLService{
		generator: generator,
		validator: validator,
		executor:  executor,
		parser:    parser,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessQuery runs generate, validate, execute, and interpret with bounded
// retries. A candidate is accepted on sufficient confidence, or on passing
// validation despite low confidence.
func (s *text2SQLService) ProcessQuery(ctx context.Context, request *models.QueryRequest) (response *models.QueryResponse) {
	start := time.Now()

	question := ""
	if request != nil {
		question = strings.TrimSpace(request.Question)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Query pipeline panicked", zap.Any("panic", r))
			response = s.failureResponse(question, "The query pipeline hit an internal error.")
			observability.ObserveQuery("panic", time.Since(start))
		}
	}()

	if question == "" {
		observability.ObserveQuery("empty_request", time.Since(start))
		return s.failureResponse(question, "No question was provided.")
	}

	priors := s.priorQueries(request)
	attempts := s.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var accepted *GeneratedQuery
	for attempt := 1; attempt <= attempts; attempt++ {
		candidate, err := s.generator.Generate(ctx, question, priors)
		if err != nil {
			s.logger.Warn("Generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < attempts {
				observability.IncrementRetry()
			}
			continue
		}

		if candidate.Confidence >= s.cfg.ConfidenceThreshold {
			accepted = candidate
			break
		}

		report, verr := s.validator.Validate(ctx, candidate.Query.QueryString)
		if verr == nil && report != nil && report.IsValid {
			s.logger.Info("Candidate accepted despite low confidence",
				zap.Float64("confidence", candidate.Confidence),
				zap.Int("attempt", attempt),
			)
			accepted = candidate
			break
		}

		s.logger.Warn("Low-confidence candidate rejected",
			zap.Int("attempt", attempt),
			zap.Float64("confidence", candidate.Confidence),
		)
		if attempt < attempts {
			observability.IncrementRetry()
		}
	}

	if accepted == nil {
		observability.ObserveQuery("generation_failed", time.Since(start))
		return s.failureResponse(question, fmt.Sprintf("Could not generate a valid SQL query after %d attempts.", attempts))
	}

	report, err := s.validator.Validate(ctx, accepted.Query.QueryString)
	if err != nil || report == nil || !report.IsValid {
		reasons := []string{}
		if report != nil {
			reasons = append(reasons, report.Errors...)
		}
		if err != nil {
			reasons = append(reasons, err.Error())
		}
		observability.ObserveQuery("validation_failed", time.Since(start))
		return &models.QueryResponse{
			OriginalQuery:  question,
			GeneratedSQL:   accepted.Query.QueryString,
			SQLExplanation: accepted.Explanation,
			Interpretation: "The generated query failed validation: " + strings.Join(reasons, "; "),
			Confidence:     accepted.Confidence,
			GeneratedAt:    time.Now().UTC(),
		}
	}

	result := s.executor.Execute(ctx, accepted.Query)
	interpretation := s.parser.FormatForLLM(&result)

	if result.Succeeded() {
		s.rememberQuery(result.Query)
		observability.ObserveQuery("success", time.Since(start))
	} else {
		observability.ObserveQuery("execution_error", time.Since(start))
	}

	return &models.QueryResponse{
		OriginalQuery:  question,
		GeneratedSQL:   result.Query,
		SQLExplanation: accepted.Explanation,
		QueryResult:    &result,
		Interpretation: interpretation,
		Confidence:     accepted.Confidence,
		GeneratedAt:    time.Now().UTC(),
	}
}

// priorQueries merges request-supplied prior queries with the pipeline's
// own memory, request-supplied first, deduplicated and capped.
func (s *text2SQLService) priorQueries(request *models.QueryRequest) []string {
	merged := make([]string, 0, recentQueryMemory)
	seen := make(map[string]struct{}, recentQueryMemory)

	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		merged = append(merged, q)
	}

	if request != nil {
		for _, q := range request.PriorQueries {
			add(q)
		}
	}

	s.mu.Lock()
	for _, q := range s.recentQueries {
		add(q)
	}
	s.mu.Unlock()

	if len(merged) > recentQueryMemory {
		merged = merged[:recentQueryMemory]
	}
	return merged
}

// rememberQuery records a successfully executed query, newest first.
func (s *text2SQLService) rememberQuery(sqlQuery string) {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]string, 0, recentQueryMemory)
	updated = append(updated, sqlQuery)
	for _, q := range s.recentQueries {
		if q == sqlQuery {
			continue
		}
		updated = append(updated, q)
		if len(updated) == recentQueryMemory {
			break
		}
	}
	s.recentQueries = updated
}

// failureResponse builds the uniform response shape for pipeline failures.
func (s *text2SQLService) failureResponse(question, message string) *models.QueryResponse {
	return &models.QueryResponse{
		OriginalQuery:  question,
		GeneratedSQL:   "",
		SQLExplanation: message,
		Interpretation: message,
		Confidence:     0,
		GeneratedAt:    time.Now().UTC(),
	}
}

// Ensure text2SQLService implements Text2SQLService at compile time.
var _ Text2SQLService = (*text2SQLService)(nil)
