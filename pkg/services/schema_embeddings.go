package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/llm"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
)

// ColumnMatch is a column ranked by semantic similarity to a question.
type ColumnMatch struct {
	TableName  string  `json:"table_name"`
	ColumnName string  `json:"column_name"`
	Similarity float64 `json:"similarity"`
}

// SchemaEmbeddingService ranks tables and columns by embedding similarity
// instead of keyword overlap. Vectors are computed lazily and cached until
// cleared.
type SchemaEmbeddingService interface {
	FindRelevantTables(ctx context.Context, query string, topK int) ([]models.SchemaTable, error)
	FindRelevantColumns(ctx context.Context, query, tableName string, topK int) ([]ColumnMatch, error)
	GetSchemaContext(ctx context.Context, relevantTables []models.SchemaTable) (string, error)
	ClearCache()
}

type schemaEmbeddingService struct {
	schemaSvc SchemaService
	llm       llm.LLMClient
	model     string
	logger    *zap.Logger

	mu            sync.Mutex
	tableVectors  map[string][]float32
	columnVectors map[string][]float32
}

// NewSchemaEmbeddingService creates an embedding-based retriever using the
// given embedding model.
func NewSchemaEmbeddingService(schemaSvc SchemaService, llmClient llm.LLMClient, embeddingModel string, logger *zap.Logger) SchemaEmbeddingService {
	return &schemaEmbeddingService{
		schemaSvc:     schemaSvc,
		llm:           llmClient,
		model:         embeddingModel,
		logger:        logger,
		tableVectors:  make(map[string][]float32),
		columnVectors: make(map[string][]float32),
	}
}

func (s *schemaEmbeddingService) FindRelevantTables(ctx context.Context, query string, topK int) ([]models.SchemaTable, error) {
	schema, err := s.schemaSvc.GetSchema(ctx, true, false)
	if err != nil {
		return nil, fmt.Errorf("load schema for embedding retrieval: %w", err)
	}
	if len(schema.Tables) == 0 {
		return nil, nil
	}

	queryVector, err := s.llm.CreateEmbedding(ctx, query, s.model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if err := s.ensureTableVectors(ctx, schema.Tables); err != nil {
		return nil, err
	}

	type scoredTable struct {
		table models.SchemaTable
		score float64
	}

	s.mu.Lock()
	scored := make([]scoredTable, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		vec, ok := s.tableVectors[strings.ToLower(table.TableName)]
		if !ok {
			continue
		}
		scored = append(scored, scoredTable{
			table: table,
			score: cosineSimilarity(queryVector, vec),
		})
	}
	s.mu.Unlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	tables := make([]models.SchemaTable, len(scored))
	for i, st := range scored {
		tables[i] = st.table
	}

	s.logger.Debug("Embedding retrieval selected tables", zap.Int("count", len(tables)))
	return tables, nil
}

// ensureTableVectors embeds table descriptions that are not yet cached,
// batching the missing ones into a single request.
func (s *schemaEmbeddingService) ensureTableVectors(ctx context.Context, tables []models.SchemaTable) error {
	s.mu.Lock()
	missing := make([]string, 0)
	descriptions := make([]string, 0)
	for i := range tables {
		key := strings.ToLower(tables[i].TableName)
		if _, ok := s.tableVectors[key]; !ok {
			missing = append(missing, key)
			descriptions = append(descriptions, renderTableLine(&tables[i]))
		}
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	vectors, err := s.llm.CreateEmbeddings(ctx, descriptions, s.model)
	if err != nil {
		return fmt.Errorf("embed table descriptions: %w", err)
	}
	if len(vectors) != len(missing) {
		return fmt.Errorf("embedding count mismatch: got %d vectors for %d tables", len(vectors), len(missing))
	}

	s.mu.Lock()
	for i, key := range missing {
		s.tableVectors[key] = vectors[i]
	}
	s.mu.Unlock()

	return nil
}

func (s *schemaEmbeddingService) FindRelevantColumns(ctx context.Context, query, tableName string, topK int) ([]ColumnMatch, error) {
	table, err := s.schemaSvc.GetTableSchema(ctx, tableName, true)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, nil
	}

	queryVector, err := s.llm.CreateEmbedding(ctx, query, s.model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if err := s.ensureColumnVectors(ctx, table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matches := make([]ColumnMatch, 0, len(table.Columns))
	for _, col := range table.Columns {
		vec, ok := s.columnVectors[columnVectorKey(table.TableName, col)]
		if !ok {
			continue
		}
		matches = append(matches, ColumnMatch{
			TableName:  table.TableName,
			ColumnName: col,
			Similarity: cosineSimilarity(queryVector, vec),
		})
	}
	s.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *schemaEmbeddingService) ensureColumnVectors(ctx context.Context, table *models.SchemaTable) error {
	s.mu.Lock()
	missing := make([]string, 0)
	descriptions := make([]string, 0)
	for _, col := range table.Columns {
		key := columnVectorKey(table.TableName, col)
		if _, ok := s.columnVectors[key]; !ok {
			missing = append(missing, key)
			desc := fmt.Sprintf("Column %s in table %s", col, table.TableName)
			if typ := table.ColumnTypes[col]; typ != "" {
				desc = fmt.Sprintf("Column %s (%s) in table %s", col, typ, table.TableName)
			}
			descriptions = append(descriptions, desc)
		}
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	vectors, err := s.llm.CreateEmbeddings(ctx, descriptions, s.model)
	if err != nil {
		return fmt.Errorf("embed column descriptions: %w", err)
	}
	if len(vectors) != len(missing) {
		return fmt.Errorf("embedding count mismatch: got %d vectors for %d columns", len(vectors), len(missing))
	}

	s.mu.Lock()
	for i, key := range missing {
		s.columnVectors[key] = vectors[i]
	}
	s.mu.Unlock()

	return nil
}

func (s *schemaEmbeddingService) GetSchemaContext(ctx context.Context, relevantTables []models.SchemaTable) (string, error) {
	if len(relevantTables) == 0 {
		schema, err := s.schemaSvc.GetSchema(ctx, true, false)
		if err != nil {
			return "", fmt.Errorf("load schema for context: %w", err)
		}
		return renderSchemaContext(schema.Tables, 0), nil
	}
	return renderSchemaContext(relevantTables, 0), nil
}

func (s *schemaEmbeddingService) ClearCache() {
	s.mu.Lock()
	s.tableVectors = make(map[string][]float32)
	s.columnVectors = make(map[string][]float32)
	s.mu.Unlock()

	s.logger.Debug("Embedding caches cleared")
}

func columnVectorKey(tableName, columnName string) string {
	return strings.ToLower(tableName) + "." + strings.ToLower(columnName)
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Ensure schemaEmbeddingService implements SchemaEmbeddingService at
// compile time.
var _ SchemaEmbeddingService = (*schemaEmbeddingService)(nil)
