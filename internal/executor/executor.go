// Package executor runs validated SQL against the metrics database with
// a statement timeout and a hard row cap.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"strings"
	"time"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/logging"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxRows = 100
	retryBackoff   = 250 * time.Millisecond
)

// Result holds the rows a query produced. Rows beyond the cap are
// dropped and Truncated is set instead of failing the request.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Executor runs read-only queries over a database handle
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
}

// New creates an executor. Non-positive limits fall back to defaults.
func New(db *sql.DB, timeout time.Duration, maxRows int) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	return &Executor{db: db, timeout: timeout, maxRows: maxRows}
}

// MaxRows reports the configured row cap
func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs the statement under the configured timeout and row cap.
// Transient database errors are retried once after a short backoff;
// everything else surfaces immediately.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*Result, error) {
	// The validator already rejected writes; this guard only protects
	// against callers that skipped validation.
	if !isReadOnly(sqlText) {
		return nil, errors.New(errors.ErrTypeValidation,
			"refusing to execute a statement that is not SELECT or WITH")
	}

	result, err := e.run(ctx, sqlText)
	if err == nil {
		return result, nil
	}

	if !isTransient(err) {
		return nil, e.classify(ctx, err)
	}

	logging.Warnf("query hit a transient database error, retrying once: %v", err)

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err = e.run(ctx, sqlText)
	if err != nil {
		return nil, e.classify(ctx, err)
	}

	return result, nil
}

func (e *Executor) run(ctx context.Context, sqlText string) (*Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()

	rows, err := e.db.QueryContext(queryCtx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns, Rows: make([][]any, 0, e.maxRows)}

	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			// One row past the cap is proof of truncation; stop reading
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		result.Rows = append(result.Rows, normalizeValues(values))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)

	return result, nil
}

// classify maps a database error onto the error taxonomy. A deadline hit
// on our statement timeout reports as a timeout, not a generic failure.
func (e *Executor) classify(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Wrapf(err, errors.ErrTypeTimeout,
			"query exceeded the %s statement timeout", e.timeout)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return errors.Wrap(err, errors.ErrTypeDatabase, "query execution failed")
}

// isReadOnly accepts only statements that begin with SELECT or WITH
func isReadOnly(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))

	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

// transientMarkers are substrings of driver errors worth one retry
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"deadlock",
	"lock timeout",
	"too many connections",
}

// isTransient reports whether the error class tends to clear on retry.
// Catalog, permission, and syntax errors never do, retrying them only
// delays the repair loop's feedback.
func isTransient(err error) bool {
	if stderrors.Is(err, driver.ErrBadConn) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}

	return false
}

// normalizeValues converts driver byte slices to strings so results
// serialize cleanly
func normalizeValues(values []any) []any {
	for i, value := range values {
		if b, ok := value.([]byte); ok {
			values[i] = string(b)
		}
	}

	return values
}
