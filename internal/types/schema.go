package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Schema is an immutable snapshot of the queryable database schema.
// It is replaced wholesale on refresh, never mutated in place.
type Schema struct {
	Version string           `json:"version"`
	Tables  map[string]Table `json:"tables"` // keyed by lowercase table name
}

// Table describes a single queryable table.
type Table struct {
	Name          string   `json:"name"`
	Columns       []Column `json:"columns"`
	Indexes       []Index  `json:"indexes,omitempty"`
	EstimatedRows int64    `json:"estimated_rows"` // -1 when the driver offers no estimate
}

// Column describes a table column.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
}

// Index describes a database index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Table looks up a table by name, case-insensitively.
// Not-found is a result, not an error, so callers can collect
// every missing reference in one pass.
func (s Schema) Table(name string) (Table, bool) {
	t, ok := s.Tables[strings.ToLower(name)]
	return t, ok
}

// Column looks up a column on the named table, case-insensitively.
func (s Schema) Column(table, column string) (Column, bool) {
	t, ok := s.Table(table)
	if !ok {
		return Column{}, false
	}

	return t.Column(column)
}

// Column looks up a column by name, case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}

	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}

	return names
}

// TableNames returns the table names sorted for deterministic output.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}

	sort.Strings(names)

	return names
}

// Fingerprint computes a short content hash over the schema structure.
// Two snapshots with identical tables, columns, and types produce the
// same fingerprint; any structural change produces a different one.
func (s Schema) Fingerprint() string {
	var sb strings.Builder

	for _, name := range s.TableNames() {
		t := s.Tables[strings.ToLower(name)]
		sb.WriteString(strings.ToLower(t.Name))
		sb.WriteByte('(')

		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "%s:%s:%t;", strings.ToLower(c.Name), strings.ToLower(c.Type), c.Nullable)
		}

		sb.WriteByte(')')
	}

	sum := sha256.Sum256([]byte(sb.String()))

	return hex.EncodeToString(sum[:])[:16]
}
