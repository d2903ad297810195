package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kyleking/askmetrics/internal/logging"
	"github.com/kyleking/askmetrics/internal/types"
)

// internalTables are bookkeeping tables hidden from the queryable schema
var internalTables = map[string]bool{
	"schema_migrations": true,
}

// columnDescriptions annotates the metric columns so prompts can show
// the model what each field means
var columnDescriptions = map[string]string{
	"app_metrics.app_name":       "Application display name",
	"app_metrics.platform":       "iOS or Android",
	"app_metrics.date":           "Metric date, one row per app, platform, country and day",
	"app_metrics.country":        "ISO country code",
	"app_metrics.installs":       "New installs for the day",
	"app_metrics.in_app_revenue": "Purchase revenue in USD",
	"app_metrics.ads_revenue":    "Advertising revenue in USD",
	"app_metrics.ua_cost":        "User acquisition spend in USD",
}

// Introspector loads schema metadata from the live database. It serves
// as the schema catalog's source.
type Introspector struct {
	db     *sql.DB
	driver string
}

// NewIntrospector creates an introspector over the store's connection
func NewIntrospector(store *Store) *Introspector {
	return &Introspector{db: store.DB(), driver: store.Driver()}
}

// Load reads tables, columns, indexes, and row estimates from the
// database catalog
func (i *Introspector) Load(ctx context.Context) (types.Schema, error) {
	query := rebind(i.driver, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`)

	rows, err := i.db.QueryContext(ctx, query, i.schemaName())
	if err != nil {
		return types.Schema{}, fmt.Errorf("failed to query column catalog: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]types.Table)

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string

		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return types.Schema{}, fmt.Errorf("failed to scan column row: %w", err)
		}

		key := strings.ToLower(tableName)
		if internalTables[key] {
			continue
		}

		table, ok := tables[key]
		if !ok {
			table = types.Table{Name: tableName, EstimatedRows: -1}
		}

		table.Columns = append(table.Columns, types.Column{
			Name:        columnName,
			Type:        dataType,
			Nullable:    strings.EqualFold(isNullable, "YES"),
			Description: columnDescriptions[key+"."+strings.ToLower(columnName)],
		})

		tables[key] = table
	}

	if err := rows.Err(); err != nil {
		return types.Schema{}, fmt.Errorf("failed to read column catalog: %w", err)
	}

	for key, table := range tables {
		table.EstimatedRows = i.estimatedRows(ctx, table.Name)
		table.Indexes = i.tableIndexes(ctx, table.Name)
		tables[key] = table
	}

	return types.Schema{Tables: tables}, nil
}

// schemaName returns the catalog schema holding user tables
func (i *Introspector) schemaName() string {
	if i.driver == DriverPostgres {
		return "public"
	}

	return "main"
}

// estimatedRows asks the driver for a cheap row count estimate,
// -1 when none is available
func (i *Introspector) estimatedRows(ctx context.Context, table string) int64 {
	var query string

	switch i.driver {
	case DriverPostgres:
		query = rebind(i.driver, "SELECT reltuples::BIGINT FROM pg_class WHERE relname = ?")
	default:
		query = "SELECT estimated_size FROM duckdb_tables() WHERE table_name = ?"
	}

	var estimate int64
	if err := i.db.QueryRowContext(ctx, query, table).Scan(&estimate); err != nil {
		return -1
	}

	return estimate
}

// tableIndexes lists the table's indexes. Failures degrade to an empty
// list, indexes only enrich prompts.
func (i *Introspector) tableIndexes(ctx context.Context, table string) []types.Index {
	var query string

	switch i.driver {
	case DriverPostgres:
		query = rebind(i.driver, "SELECT indexname, indexdef FROM pg_indexes WHERE tablename = ?")
	default:
		query = "SELECT index_name, sql FROM duckdb_indexes() WHERE table_name = ?"
	}

	rows, err := i.db.QueryContext(ctx, query, table)
	if err != nil {
		logging.Debugf("index introspection failed for %s: %v", table, err)
		return nil
	}
	defer rows.Close()

	var indexes []types.Index

	for rows.Next() {
		var name, ddl string

		if err := rows.Scan(&name, &ddl); err != nil {
			logging.Debugf("failed to scan index row for %s: %v", table, err)
			continue
		}

		indexes = append(indexes, types.Index{Name: name, Columns: parseIndexColumns(ddl)})
	}

	if err := rows.Err(); err != nil {
		logging.Debugf("index introspection failed for %s: %v", table, err)
	}

	return indexes
}

// parseIndexColumns pulls the column list out of an index DDL statement,
// the part inside the trailing parentheses
func parseIndexColumns(ddl string) []string {
	start := strings.LastIndex(ddl, "(")
	end := strings.LastIndex(ddl, ")")

	if start < 0 || end <= start {
		return nil
	}

	parts := strings.Split(ddl[start+1:end], ",")
	columns := make([]string, 0, len(parts))

	for _, part := range parts {
		name := strings.Trim(strings.TrimSpace(part), `"`)
		if name != "" {
			columns = append(columns, strings.ToLower(name))
		}
	}

	return columns
}
