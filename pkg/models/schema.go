package models

import (
	"strings"
	"time"
)

// SchemaTable represents one table in a schema snapshot.
// Instances are immutable once constructed; a refresh replaces them wholesale.
type SchemaTable struct {
	TableName   string            `json:"table_name"`
	Columns     []string          `json:"columns"`      // ordinal order
	ColumnTypes map[string]string `json:"column_types"` // column name -> data type
	PrimaryKey  string            `json:"primary_key,omitempty"`
	RowCount    int64             `json:"row_count"` // estimate, -1 if unknown
}

// ColumnType returns the declared type for a column, or "" if unknown.
func (t *SchemaTable) ColumnType(column string) string {
	return t.ColumnTypes[column]
}

// HasColumn reports whether the table has the named column (case-insensitive).
func (t *SchemaTable) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}

// DatabaseSchema is a structured snapshot of the backend's tables and
// relationships. Table names are unique within a snapshot.
type DatabaseSchema struct {
	DatabaseName  string              `json:"database_name"`
	Tables        []SchemaTable       `json:"tables"`
	Relationships map[string][]string `json:"relationships,omitempty"` // "table.column" -> referenced "table.column"s
	LastUpdated   time.Time           `json:"last_updated"`
}

// TableNames returns the snapshot's table names in catalog order.
func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.TableName
	}
	return names
}

// Table returns the named table (case-insensitive) or nil if absent.
func (s *DatabaseSchema) Table(name string) *SchemaTable {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].TableName, name) {
			return &s.Tables[i]
		}
	}
	return nil
}

// SchemaVersion is one entry in the append-only schema version log.
type SchemaVersion struct {
	Version    int       `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	TableCount int       `json:"table_count"`
	TableNames []string  `json:"table_names"`
}
