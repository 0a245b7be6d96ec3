package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/apperrors"
	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/database"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/observability"
)

// truncationMarker closes an oversized schema context rendering.
const truncationMarker = "... (truncated)"

// CatalogSource provides raw catalog metadata for snapshot construction.
// *database.Pool is the production implementation.
type CatalogSource interface {
	GetCatalog(ctx context.Context, useCache bool) ([]database.TableMeta, error)
	GetForeignKeys(ctx context.Context) (map[string][]string, error)
}

// SchemaService owns the structured, versioned schema snapshot built on top
// of the raw catalog.
type SchemaService interface {
	// GetSchema returns the current snapshot. useCache=false skips the
	// snapshot cache; refresh=true additionally bypasses the raw catalog
	// cache underneath.
	GetSchema(ctx context.Context, useCache, refresh bool) (*models.DatabaseSchema, error)

	// GetTableSchema returns a single table. With lazyLoad the per-table
	// cache is consulted before the snapshot.
	GetTableSchema(ctx context.Context, name string, lazyLoad bool) (*models.SchemaTable, error)

	// GetSchemaSummary renders a short human-oriented description.
	GetSchemaSummary(ctx context.Context) (string, error)

	// GetSchemaContext renders the LLM-oriented table/column listing,
	// truncated deterministically at maxLength (0 = unlimited).
	GetSchemaContext(ctx context.Context, maxLength int) (string, error)

	// InvalidateCache forces the next GetSchema call to hit the backend.
	InvalidateCache()

	// GetVersionHistory returns the bounded schema version log, oldest first.
	GetVersionHistory() []models.SchemaVersion
}

type schemaService struct {
	source       CatalogSource
	cfg          config.SchemaConfig
	databaseName string
	logger       *zap.Logger

	mu         sync.RWMutex
	snapshot   *models.DatabaseSchema
	snapshotAt time.Time
	version    int
	history    []models.SchemaVersion
	tableCache map[string]*models.SchemaTable
}

// NewSchemaService creates a schema service over a catalog source.
func NewSchemaService(source CatalogSource, cfg config.SchemaConfig, databaseName string, logger *zap.Logger) SchemaService {
	return &schemaService{
		source:       source,
		cfg:          cfg,
		databaseName: databaseName,
		logger:       logger,
		tableCache:   make(map[string]*models.SchemaTable),
	}
}

func (s *schemaService) cacheTTL() time.Duration {
	return time.Duration(s.cfg.CacheTTLSeconds) * time.Second
}

// GetSchema returns the cached snapshot when fresh, otherwise rebuilds it
// from the catalog. The rebuilt snapshot replaces the old one atomically;
// concurrent readers see either the old or the new snapshot, never a
// partial one.
func (s *schemaService) GetSchema(ctx context.Context, useCache, refresh bool) (*models.DatabaseSchema, error) {
	if useCache && !refresh {
		s.mu.RLock()
		if s.snapshot != nil && time.Since(s.snapshotAt) < s.cacheTTL() {
			snapshot := s.snapshot
			s.mu.RUnlock()
			return snapshot, nil
		}
		s.mu.RUnlock()
	}

	buildStart := time.Now()
	snapshot, err := s.buildSnapshot(ctx, !refresh)
	if err != nil {
		return nil, fmt.Errorf("build schema snapshot: %w", err)
	}
	observability.ObserveStageDuration(observability.StageSchema, time.Since(buildStart))

	s.mu.Lock()
	added, removed := diffTableNames(s.snapshot, snapshot)
	s.snapshot = snapshot
	s.snapshotAt = time.Now()
	s.tableCache = make(map[string]*models.SchemaTable)
	if s.cfg.EnableVersioning {
		s.version++
		s.history = append(s.history, models.SchemaVersion{
			Version:    s.version,
			Timestamp:  snapshot.LastUpdated,
			TableCount: len(snapshot.Tables),
			TableNames: snapshot.TableNames(),
		})
		if limit := s.cfg.VersionHistoryLimit; limit > 0 && len(s.history) > limit {
			s.history = s.history[len(s.history)-limit:]
		}
	}
	version := s.version
	s.mu.Unlock()

	observability.IncrementCatalogRefresh()
	s.logger.Info("Schema snapshot rebuilt",
		zap.Int("version", version),
		zap.Int("tables", len(snapshot.Tables)),
		zap.Bool("refresh", refresh),
	)
	if len(added) > 0 || len(removed) > 0 {
		s.logger.Info("Schema changed since last snapshot",
			zap.Strings("added_tables", added),
			zap.Strings("removed_tables", removed),
		)
	}

	return snapshot, nil
}

// diffTableNames reports tables that appeared in or vanished from the
// snapshot. The first build has no predecessor and reports no changes.
func diffTableNames(previous, current *models.DatabaseSchema) (added, removed []string) {
	if previous == nil {
		return nil, nil
	}

	before := make(map[string]bool, len(previous.Tables))
	for i := range previous.Tables {
		before[previous.Tables[i].TableName] = true
	}
	after := make(map[string]bool, len(current.Tables))
	for i := range current.Tables {
		name := current.Tables[i].TableName
		after[name] = true
		if !before[name] {
			added = append(added, name)
		}
	}
	for i := range previous.Tables {
		if !after[previous.Tables[i].TableName] {
			removed = append(removed, previous.Tables[i].TableName)
		}
	}
	return added, removed
}

// buildSnapshot pulls the raw catalog and foreign keys and assembles a new
// snapshot. FK discovery is best-effort and degrades to no relationships.
func (s *schemaService) buildSnapshot(ctx context.Context, useRawCache bool) (*models.DatabaseSchema, error) {
	tables, err := s.source.GetCatalog(ctx, useRawCache)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	relationships, err := s.source.GetForeignKeys(ctx)
	if err != nil {
		s.logger.Warn("Foreign key discovery failed, continuing without relationships", zap.Error(err))
		relationships = map[string][]string{}
	}

	snapshot := &models.DatabaseSchema{
		DatabaseName:  s.databaseName,
		Tables:        make([]models.SchemaTable, 0, len(tables)),
		Relationships: relationships,
		LastUpdated:   time.Now().UTC(),
	}

	for _, tm := range tables {
		table := models.SchemaTable{
			TableName:   tm.Name,
			Columns:     make([]string, 0, len(tm.Columns)),
			ColumnTypes: make(map[string]string, len(tm.Columns)),
			RowCount:    tm.RowCount,
		}
		for _, col := range tm.Columns {
			table.Columns = append(table.Columns, col.Name)
			table.ColumnTypes[col.Name] = col.DataType
			if col.IsPrimaryKey && table.PrimaryKey == "" {
				table.PrimaryKey = col.Name
			}
		}
		snapshot.Tables = append(snapshot.Tables, table)
	}

	return snapshot, nil
}

// GetTableSchema returns a single table from the snapshot, populating a
// per-table cache on first access.
func (s *schemaService) GetTableSchema(ctx context.Context, name string, lazyLoad bool) (*models.SchemaTable, error) {
	key := strings.ToLower(name)

	if lazyLoad {
		s.mu.RLock()
		if table, ok := s.tableCache[key]; ok {
			s.mu.RUnlock()
			return table, nil
		}
		s.mu.RUnlock()
	}

	schema, err := s.GetSchema(ctx, true, false)
	if err != nil {
		return nil, err
	}

	table := schema.Table(name)
	if table == nil {
		return nil, fmt.Errorf("%w: table %q", apperrors.ErrSchemaNotFound, name)
	}

	s.mu.Lock()
	s.tableCache[key] = table
	s.mu.Unlock()

	return table, nil
}

// GetSchemaSummary renders a short human-oriented description of the snapshot.
func (s *schemaService) GetSchemaSummary(ctx context.Context) (string, error) {
	schema, err := s.GetSchema(ctx, true, false)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Database %q contains %d tables:\n", schema.DatabaseName, len(schema.Tables)))
	for i := range schema.Tables {
		t := &schema.Tables[i]
		b.WriteString(fmt.Sprintf("- %s: %d columns", t.TableName, len(t.Columns)))
		if t.RowCount >= 0 {
			b.WriteString(fmt.Sprintf(", ~%d rows", t.RowCount))
		}
		b.WriteString("\n")
	}
	if edges := countRelationshipEdges(schema.Relationships); edges > 0 {
		b.WriteString(fmt.Sprintf("%d foreign key relationships discovered.\n", edges))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func countRelationshipEdges(relationships map[string][]string) int {
	edges := 0
	for _, targets := range relationships {
		edges += len(targets)
	}
	return edges
}

// GetSchemaContext renders the LLM-oriented table listing.
func (s *schemaService) GetSchemaContext(ctx context.Context, maxLength int) (string, error) {
	schema, err := s.GetSchema(ctx, true, false)
	if err != nil {
		return "", err
	}
	return renderSchemaContext(schema.Tables, maxLength), nil
}

// InvalidateCache drops the snapshot and per-table caches. The version
// counter and history are retained.
func (s *schemaService) InvalidateCache() {
	s.mu.Lock()
	s.snapshot = nil
	s.snapshotAt = time.Time{}
	s.tableCache = make(map[string]*models.SchemaTable)
	s.mu.Unlock()

	s.logger.Debug("Schema cache invalidated")
}

// GetVersionHistory returns a copy of the bounded version log, oldest first.
func (s *schemaService) GetVersionHistory() []models.SchemaVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.SchemaVersion, len(s.history))
	copy(history, s.history)
	return history
}

// renderSchemaContext renders one line per table in the
// "table: col1 (type1), col2 (type2) [PK: pk]" format, truncating
// deterministically at maxLength when positive.
func renderSchemaContext(tables []models.SchemaTable, maxLength int) string {
	lines := make([]string, len(tables))
	for i := range tables {
		lines[i] = renderTableLine(&tables[i])
	}

	full := strings.Join(lines, "\n")
	if maxLength <= 0 || len(full) <= maxLength {
		return full
	}

	var b strings.Builder
	for _, line := range lines {
		if b.Len()+len(line)+1+len(truncationMarker) > maxLength {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(truncationMarker)
	return b.String()
}

func renderTableLine(t *models.SchemaTable) string {
	parts := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		if typ := t.ColumnTypes[col]; typ != "" {
			parts[i] = fmt.Sprintf("%s (%s)", col, typ)
		} else {
			parts[i] = col
		}
	}
	line := fmt.Sprintf("%s: %s", t.TableName, strings.Join(parts, ", "))
	if t.PrimaryKey != "" {
		line += fmt.Sprintf(" [PK: %s]", t.PrimaryKey)
	}
	return line
}

// Ensure schemaService implements SchemaService at compile time.
var _ SchemaService = (*schemaService)(nil)
