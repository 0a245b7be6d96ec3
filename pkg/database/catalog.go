package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/apperrors"
)

// ColumnMeta describes one column as reported by the catalog.
type ColumnMeta struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
	Ordinal      int
}

// TableMeta describes one table as reported by the catalog. RowCount comes
// from planner statistics (pg_class.reltuples) and is an estimate.
type TableMeta struct {
	Name     string
	RowCount int64
	Columns  []ColumnMeta
}

// tablesQuery lists base tables in the public schema with their estimated
// row counts. reltuples is -1 on never-analyzed tables, so clamp at zero.
const tablesQuery = `
	SELECT
		t.table_name,
		GREATEST(COALESCE(c.reltuples::bigint, 0), 0) AS row_count
	FROM information_schema.tables t
	LEFT JOIN pg_catalog.pg_class c ON c.relname = t.table_name
	LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		AND n.nspname = t.table_schema
	WHERE t.table_type = 'BASE TABLE'
		AND t.table_schema = 'public'
	ORDER BY t.table_name`

// columnsQuery lists every column in the public schema in ordinal order,
// marking single-column primary keys via pg_index.
const columnsQuery = `
	SELECT
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(pk.is_pk, false) AS is_primary_key,
		c.ordinal_position
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT t.relname AS table_name, a.attname AS column_name, true AS is_pk
		FROM pg_catalog.pg_index ix
		JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid
			AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary
			AND n.nspname = 'public'
			AND array_length(ix.indkey::int2[], 1) = 1
	) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
	WHERE c.table_schema = 'public'
	ORDER BY c.table_name, c.ordinal_position`

// foreignKeysQuery lists foreign key column pairs in the public schema.
const foreignKeysQuery = `
	SELECT
		tc.table_name AS source_table,
		kcu.column_name AS source_column,
		ccu.table_name AS target_table,
		ccu.column_name AS target_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON tc.constraint_name = ccu.constraint_name
		AND tc.table_schema = ccu.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = 'public'
	ORDER BY tc.table_name, kcu.column_name`

// GetCatalog returns table and column metadata for the public schema,
// ordered by table name. With useCache set, a snapshot younger than the
// configured TTL is returned without touching the backend.
func (p *Pool) GetCatalog(ctx context.Context, useCache bool) ([]TableMeta, error) {
	if useCache {
		p.catalogMu.RLock()
		if p.catalog != nil && time.Since(p.catalogAt) < p.cfg.CatalogTTL {
			cached := p.catalog
			p.catalogMu.RUnlock()
			return cached, nil
		}
		p.catalogMu.RUnlock()
	}

	tables, err := p.fetchCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendQuery, err)
	}

	p.catalogMu.Lock()
	p.catalog = tables
	p.catalogAt = time.Now()
	p.catalogMu.Unlock()

	p.logger.Debug("Catalog refreshed", zap.Int("tables", len(tables)))
	return tables, nil
}

func (p *Pool) fetchCatalog(ctx context.Context) ([]TableMeta, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	conn, err := p.Acquire(queryCtx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tableRows, err := conn.Query(queryCtx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	var tables []TableMeta
	index := make(map[string]int)
	for tableRows.Next() {
		var t TableMeta
		if err := tableRows.Scan(&t.Name, &t.RowCount); err != nil {
			tableRows.Close()
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		index[t.Name] = len(tables)
		tables = append(tables, t)
	}
	if err := tableRows.Err(); err != nil {
		tableRows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	tableRows.Close()

	columnRows, err := conn.Query(queryCtx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer columnRows.Close()

	for columnRows.Next() {
		var tableName string
		var col ColumnMeta
		if err := columnRows.Scan(&tableName, &col.Name, &col.DataType,
			&col.IsNullable, &col.IsPrimaryKey, &col.Ordinal); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if i, ok := index[tableName]; ok {
			tables[i].Columns = append(tables[i].Columns, col)
		}
	}
	if err := columnRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return tables, nil
}

// GetForeignKeys maps "table.column" to the referenced "table.column"
// targets. Callers treat failures as an empty relationship set.
func (p *Pool) GetForeignKeys(ctx context.Context) (map[string][]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	conn, err := p.Acquire(queryCtx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(queryCtx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	relationships := make(map[string][]string)
	for rows.Next() {
		var sourceTable, sourceColumn, targetTable, targetColumn string
		if err := rows.Scan(&sourceTable, &sourceColumn, &targetTable, &targetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		source := sourceTable + "." + sourceColumn
		target := targetTable + "." + targetColumn
		relationships[source] = append(relationships[source], target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return relationships, nil
}
