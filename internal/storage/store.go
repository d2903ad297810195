package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"  // Postgres driver
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/askmetrics/internal/config"
)

// Driver names accepted by Open
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Store wraps the metrics database connection with its pool settings
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

// Open connects to the metrics database named by the configuration.
// DuckDB opens a local file, creating its directory if needed; Postgres
// connects through the DSN.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	driver := strings.ToLower(cfg.Driver)

	var (
		db   *sql.DB
		path string
		err  error
	)

	switch driver {
	case DriverDuckDB:
		path = cfg.Path

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		db, err = sql.Open("duckdb", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}

		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTimeDuration())

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, driver: driver, path: path}, nil
}

// DB exposes the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name the store was opened with
func (s *Store) Driver() string {
	return s.driver
}

// Path returns the database file path, empty for Postgres
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// rebind rewrites ? placeholders to $n for Postgres. DuckDB takes ?
// directly so queries are written once in that form.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var sb strings.Builder

	n := 0

	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)

			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}
