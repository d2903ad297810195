package query

import (
	"fmt"
	"strings"

	"github.com/kyleking/askmetrics/internal/types"
)

// ViolationKind classifies a validation finding
type ViolationKind string

const (
	ViolationSyntax        ViolationKind = "syntax_error"
	ViolationWriteOp       ViolationKind = "write_operation"
	ViolationUnknownTable  ViolationKind = "unknown_table"
	ViolationUnknownColumn ViolationKind = "unknown_column"
	ViolationUnboundedScan ViolationKind = "unbounded_scan"
	ViolationExecution     ViolationKind = "execution_error"
)

// Severity separates findings that block a candidate from advisory ones
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is a single validation finding
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
}

// Verdict is the accumulated outcome of validating one candidate. All
// checks run and report together, a candidate with three problems gets
// all three back in a single repair round.
type Verdict struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Valid reports whether the candidate can be executed. Warnings alone
// do not block execution.
func (v Verdict) Valid() bool {
	for _, violation := range v.Violations {
		if violation.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Fatal reports whether the verdict holds a violation repair cannot fix.
// A write operation means the model misread the task, regenerating with
// feedback would only reward the attempt.
func (v Verdict) Fatal() bool {
	for _, violation := range v.Violations {
		if violation.Kind == ViolationWriteOp {
			return true
		}
	}
	return false
}

// Errors returns the blocking violations
func (v Verdict) Errors() []Violation {
	var out []Violation
	for _, violation := range v.Violations {
		if violation.Severity == SeverityError {
			out = append(out, violation)
		}
	}
	return out
}

// Warnings returns the advisory violations
func (v Verdict) Warnings() []Violation {
	var out []Violation
	for _, violation := range v.Violations {
		if violation.Severity == SeverityWarning {
			out = append(out, violation)
		}
	}
	return out
}

// FailureMessages returns the blocking violation messages, the feedback
// handed to the model on the next repair round
func (v Verdict) FailureMessages() []string {
	var out []string
	for _, violation := range v.Errors() {
		out = append(out, violation.Message)
	}
	return out
}

func (v *Verdict) add(kind ViolationKind, severity Severity, format string, args ...interface{}) {
	v.Violations = append(v.Violations, Violation{
		Kind:     kind,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	})
}

// defaultScanRowThreshold is the table size above which an unfiltered
// scan draws a warning
const defaultScanRowThreshold = 100000

// Validator checks SQL candidates against the live schema before
// anything reaches the database. It works lexically, no parser library,
// which keeps it dialect agnostic and fast enough to run on every
// candidate.
type Validator struct {
	scanRowThreshold int64
}

// NewValidator creates a validator. A non-positive threshold falls back
// to the default.
func NewValidator(scanRowThreshold int64) *Validator {
	if scanRowThreshold <= 0 {
		scanRowThreshold = defaultScanRowThreshold
	}
	return &Validator{scanRowThreshold: scanRowThreshold}
}

// Validate runs every check against the candidate and returns the
// accumulated verdict
func (v *Validator) Validate(sqlText string, schema types.Schema) Verdict {
	var verdict Verdict

	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		verdict.add(ViolationSyntax, SeverityError, "SQL is empty")
		return verdict
	}

	tokens, wellFormed := tokenizeSQL(trimmed)

	if !wellFormed {
		verdict.add(ViolationSyntax, SeverityError, "unterminated string literal or comment")
	}
	if !parensBalanced(tokens) {
		verdict.add(ViolationSyntax, SeverityError, "unbalanced parentheses")
	}
	if n := countStatements(tokens); n > 1 {
		verdict.add(ViolationSyntax, SeverityError, "expected a single statement, found %d", n)
	}

	// Write operations are a hard stop, never sent back for repair
	if writes := findWriteKeywords(tokens); len(writes) > 0 {
		verdict.add(ViolationWriteOp, SeverityError, "write operation not permitted: %s", strings.Join(writes, ", "))
	}

	switch first := firstKeyword(tokens); {
	case first == "select" || first == "with":
	case first == "":
		verdict.add(ViolationSyntax, SeverityError, "not a recognizable SQL statement")
	case writeKeywords[first]:
		// Usually reported by the write check above. A write verb heading
		// the statement is a write even in call position, COPY (SELECT...)
		// must not slip through as a function.
		if !verdict.Fatal() {
			verdict.add(ViolationWriteOp, SeverityError, "write operation not permitted: %s", first)
		}
	default:
		verdict.add(ViolationSyntax, SeverityError, "statement must start with SELECT, got %s", strings.ToUpper(first))
	}

	if verdict.Fatal() {
		return verdict
	}

	refs, cols := scanStatement(tokens)
	ctes := collectCTENames(tokens)
	hasDerived := hasDerivedTable(tokens)

	v.checkTables(refs, ctes, schema, &verdict)
	v.checkColumns(refs, cols, ctes, hasDerived, schema, &verdict)
	v.checkUnboundedScan(tokens, refs, schema, &verdict)

	return verdict
}

// ValidateExecution wraps a database error as a verdict so execution
// failures feed the same repair loop as static findings
func ValidateExecution(err error) Verdict {
	var verdict Verdict
	verdict.add(ViolationExecution, SeverityError, "query failed to execute: %v", err)
	return verdict
}

func (v *Validator) checkTables(refs []tableRef, ctes map[string]bool, schema types.Schema, verdict *Verdict) {
	reported := make(map[string]bool)

	for _, ref := range refs {
		if ref.Name == "" || ctes[ref.Name] || reported[ref.Name] {
			continue
		}
		if _, ok := schema.Table(ref.Name); !ok {
			reported[ref.Name] = true
			verdict.add(ViolationUnknownTable, SeverityError, "unknown table: %s (known tables: %s)",
				ref.Name, strings.Join(schema.TableNames(), ", "))
		}
	}
}

func (v *Validator) checkColumns(refs []tableRef, cols []columnRef, ctes map[string]bool, hasDerived bool, schema types.Schema, verdict *Verdict) {
	aliasToTable := make(map[string]string)
	resolvedAny := false

	for _, ref := range refs {
		if ref.Alias != "" {
			aliasToTable[ref.Alias] = ref.Name
		}
		if _, ok := schema.Table(ref.Name); ok {
			resolvedAny = true
		}
	}

	anyCTE := false
	for _, ref := range refs {
		if ctes[ref.Name] {
			anyCTE = true
			break
		}
	}

	reported := make(map[string]bool)

	for _, col := range cols {
		if col.Qualifier != "" {
			v.checkQualifiedColumn(col, aliasToTable, ctes, hasDerived, schema, verdict, reported)
			continue
		}

		// A bare column must exist in some referenced table. Go quiet
		// when a CTE or derived table is in play, the column may come
		// from there, or when no relation resolved at all, the unknown
		// table finding already covers it.
		if anyCTE || hasDerived || !resolvedAny {
			continue
		}

		found := false
		for _, ref := range refs {
			table, ok := schema.Table(ref.Name)
			if !ok {
				continue
			}
			if _, ok := table.Column(col.Name); ok {
				found = true
				break
			}
		}

		if !found && !reported[col.Name] {
			reported[col.Name] = true
			verdict.add(ViolationUnknownColumn, SeverityError, "unknown column: %s%s",
				col.Name, columnHint(refs, schema))
		}
	}
}

func (v *Validator) checkQualifiedColumn(col columnRef, aliasToTable map[string]string, ctes map[string]bool, hasDerived bool, schema types.Schema, verdict *Verdict, reported map[string]bool) {
	tableName, ok := aliasToTable[col.Qualifier]
	if !ok {
		if ctes[col.Qualifier] {
			return
		}
		if _, isTable := schema.Table(col.Qualifier); isTable {
			tableName = col.Qualifier
		} else if hasDerived {
			// Probably the derived table's alias, not checkable
			return
		} else {
			key := "qualifier:" + col.Qualifier
			if !reported[key] {
				reported[key] = true
				verdict.add(ViolationUnknownTable, SeverityError, "unknown table or alias: %s", col.Qualifier)
			}
			return
		}
	}

	if ctes[tableName] {
		return
	}

	table, ok := schema.Table(tableName)
	if !ok {
		// The table check reported this relation already
		return
	}

	if _, ok := table.Column(col.Name); !ok {
		key := tableName + "." + col.Name
		if !reported[key] {
			reported[key] = true
			verdict.add(ViolationUnknownColumn, SeverityError, "unknown column: %s.%s", tableName, col.Name)
		}
	}
}

// checkUnboundedScan warns when a query sweeps a large table with no
// WHERE, LIMIT, or aggregation to bound the result. Tables without a
// row estimate never warn.
func (v *Validator) checkUnboundedScan(tokens []sqlToken, refs []tableRef, schema types.Schema, verdict *Verdict) {
	aggFuncs := map[string]bool{"count": true, "sum": true, "avg": true, "min": true, "max": true}

	for i, tok := range tokens {
		if !tok.IsIdent {
			continue
		}
		lower := strings.ToLower(tok.Text)
		if lower == "where" || lower == "limit" || lower == "group" {
			return
		}
		if aggFuncs[lower] && i+1 < len(tokens) && isPunct(tokens[i+1], "(") {
			return
		}
	}

	for _, ref := range refs {
		table, ok := schema.Table(ref.Name)
		if !ok {
			continue
		}
		if table.EstimatedRows > v.scanRowThreshold {
			verdict.add(ViolationUnboundedScan, SeverityWarning,
				"unbounded scan of %s (~%d rows), add a filter or LIMIT", table.Name, table.EstimatedRows)
		}
	}
}

// columnHint lists the columns of the referenced tables, enough context
// for the model to pick the right name on the next round
func columnHint(refs []tableRef, schema types.Schema) string {
	var names []string
	seen := make(map[string]bool)

	for _, ref := range refs {
		table, ok := schema.Table(ref.Name)
		if !ok {
			continue
		}
		for _, column := range table.Columns {
			if !seen[column.Name] {
				seen[column.Name] = true
				names = append(names, column.Name)
			}
		}
	}

	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf(" (available columns: %s)", strings.Join(names, ", "))
}
