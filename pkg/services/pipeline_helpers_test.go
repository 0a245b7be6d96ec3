package services

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/database"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
)

// fakeCatalogSource serves a fixed catalog and counts fetches.
type fakeCatalogSource struct {
	mu           sync.Mutex
	tables       []database.TableMeta
	foreignKeys  map[string][]string
	catalogErr   error
	fkErr        error
	catalogCalls int
}

func (f *fakeCatalogSource) GetCatalog(ctx context.Context, useCache bool) ([]database.TableMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogCalls++
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.tables, nil
}

func (f *fakeCatalogSource) GetForeignKeys(ctx context.Context) (map[string][]string, error) {
	if f.fkErr != nil {
		return nil, f.fkErr
	}
	if f.foreignKeys == nil {
		return map[string][]string{}, nil
	}
	return f.foreignKeys, nil
}

func (f *fakeCatalogSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalogCalls
}

// fakeBackend records executed queries and serves canned results.
type fakeBackend struct {
	mu        sync.Mutex
	calls     int
	lastQuery string
	resultFn  func(query string) models.SQLResult
}

func (f *fakeBackend) Execute(ctx context.Context, query string, params map[string]any) models.SQLResult {
	f.mu.Lock()
	f.calls++
	f.lastQuery = query
	fn := f.resultFn
	f.mu.Unlock()

	if fn != nil {
		return fn(query)
	}
	return models.SQLResult{
		Query:       query,
		Status:      models.StatusSuccess,
		ColumnNames: []string{},
		Rows:        []map[string]any{},
	}
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) executedQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

// demoTables is the catalog fixture shared across pipeline tests.
func demoTables() []database.TableMeta {
	return []database.TableMeta{
		{
			Name:     "users",
			RowCount: 42,
			Columns: []database.ColumnMeta{
				{Name: "id", DataType: "integer", IsPrimaryKey: true, Ordinal: 1},
				{Name: "name", DataType: "text", IsNullable: true, Ordinal: 2},
				{Name: "email", DataType: "text", IsNullable: true, Ordinal: 3},
			},
		},
		{
			Name:     "orders",
			RowCount: 128,
			Columns: []database.ColumnMeta{
				{Name: "id", DataType: "integer", IsPrimaryKey: true, Ordinal: 1},
				{Name: "user_id", DataType: "integer", Ordinal: 2},
				{Name: "total", DataType: "numeric", Ordinal: 3},
				{Name: "created_at", DataType: "timestamp with time zone", Ordinal: 4},
			},
		},
		{
			Name:     "products",
			RowCount: 16,
			Columns: []database.ColumnMeta{
				{Name: "id", DataType: "integer", IsPrimaryKey: true, Ordinal: 1},
				{Name: "title", DataType: "text", IsNullable: true, Ordinal: 2},
				{Name: "price", DataType: "numeric", Ordinal: 3},
			},
		},
	}
}

func newDemoCatalogSource() *fakeCatalogSource {
	return &fakeCatalogSource{
		tables: demoTables(),
		foreignKeys: map[string][]string{
			"orders.user_id": {"users.id"},
		},
	}
}

func newTestSchemaService(t *testing.T, source CatalogSource) SchemaService {
	t.Helper()
	cfg := config.SchemaConfig{
		CacheTTLSeconds:     3600,
		EnableVersioning:    true,
		VersionHistoryLimit: 10,
	}
	return NewSchemaService(source, cfg, "testdb", zap.NewNop())
}
