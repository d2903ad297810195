// Package format renders query results for the CLI and for exports.
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kyleking/askmetrics/internal/executor"
)

// Output represents the output format type
type Output string

const (
	FormatTable Output = "table"
	FormatJSON  Output = "json"
	FormatCSV   Output = "csv"
)

// Formatter renders executor results
type Formatter struct{}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatResult renders the result in the requested format
func (f *Formatter) FormatResult(result *executor.Result, format Output) (string, error) {
	switch format {
	case FormatJSON:
		return f.formatJSON(result)
	case FormatCSV:
		return f.FormatCSV(result)
	case FormatTable:
		return f.formatTable(result), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", format)
	}
}

// formatTable renders an aligned text table with a truncation note when
// the row cap cut the result short
func (f *Formatter) formatTable(result *executor.Result) string {
	if len(result.Columns) == 0 {
		return "(no result)"
	}

	widths := make([]int, len(result.Columns))
	for i, col := range result.Columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(result.Rows))

	for r, row := range result.Rows {
		cells[r] = make([]string, len(result.Columns))

		for c := range result.Columns {
			var value any
			if c < len(row) {
				value = row[c]
			}

			text := FormatCell(value)
			cells[r][c] = text

			if len(text) > widths[c] {
				widths[c] = len(text)
			}
		}
	}

	var sb strings.Builder

	writeRow := func(texts []string) {
		for i, text := range texts {
			if i > 0 {
				sb.WriteString("  ")
			}

			sb.WriteString(text)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(text)))
		}

		sb.WriteString("\n")
	}

	writeRow(result.Columns)

	separators := make([]string, len(result.Columns))
	for i := range result.Columns {
		separators[i] = strings.Repeat("-", widths[i])
	}

	writeRow(separators)

	for _, row := range cells {
		writeRow(row)
	}

	if result.RowCount == 0 {
		sb.WriteString("(no rows)\n")
	}

	if result.Truncated {
		fmt.Fprintf(&sb, "\n(truncated to the first %d rows)\n", result.RowCount)
	}

	return sb.String()
}

// formatJSON renders the result as an indented JSON document
func (f *Formatter) formatJSON(result *executor.Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	return string(data), nil
}

// FormatCSV renders the result as CSV with a header row. Exposed
// directly because the export intent serves raw CSV, not a display
// format chosen by flag.
func (f *Formatter) FormatCSV(result *executor.Result) (string, error) {
	var sb strings.Builder

	writer := csv.NewWriter(&sb)

	if err := writer.Write(result.Columns); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(result.Columns))

	for _, row := range result.Rows {
		for i := range result.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}

			record[i] = FormatCell(value)
		}

		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}

	return sb.String(), nil
}

// FormatCell renders one value for display. Floats keep two decimals,
// money-ish noise like trailing zeros is not worth preserving.
func FormatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', 2, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 {
			return v.Format("2006-01-02")
		}

		return v.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
