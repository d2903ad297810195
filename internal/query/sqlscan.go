package query

import (
	"strings"
	"unicode"
)

// sqlToken is one lexical unit of a SQL statement
type sqlToken struct {
	Text     string
	IsIdent  bool
	IsString bool
	IsNumber bool
}

// tableRef is a relation mentioned in a FROM or JOIN clause
type tableRef struct {
	Name  string
	Alias string
}

// columnRef is a column mention, optionally qualified by a table or alias
type columnRef struct {
	Qualifier string
	Name      string
}

// isPunct reports whether the token is the given punctuation, a quoted
// identifier or string literal with the same text does not count
func isPunct(tok sqlToken, text string) bool {
	return tok.Text == text && !tok.IsIdent && !tok.IsString && !tok.IsNumber
}

// tokenizeSQL splits a statement into lexical tokens, dropping comments.
// String literals collapse into single tokens so later scans never
// mistake quoted text for identifiers. The second return reports whether
// the input was lexically well formed, terminated strings and comments.
func tokenizeSQL(sql string) ([]sqlToken, bool) {
	var tokens []sqlToken
	ok := true

	runes := []rune(sql)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			closed := false
			for i+1 < len(runes) {
				if runes[i] == '*' && runes[i+1] == '/' {
					i += 2
					closed = true
					break
				}
				i++
			}
			if !closed {
				ok = false
				i = len(runes)
			}

		case r == '\'':
			start := i
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					// Doubled quote is an escaped quote inside the literal
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				ok = false
			}
			tokens = append(tokens, sqlToken{Text: string(runes[start:i]), IsString: true})

		case r == '"':
			i++
			start := i
			closed := false
			for i < len(runes) {
				if runes[i] == '"' {
					closed = true
					break
				}
				i++
			}
			if !closed {
				ok = false
			}
			tokens = append(tokens, sqlToken{Text: string(runes[start:i]), IsIdent: true})
			if closed {
				i++
			}

		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, sqlToken{Text: string(runes[start:i]), IsIdent: true})

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, sqlToken{Text: string(runes[start:i]), IsNumber: true})

		default:
			tokens = append(tokens, sqlToken{Text: string(r)})
			i++
		}
	}

	return tokens, ok
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// countStatements reports how many non-empty statements the token
// stream holds, treating semicolons as separators
func countStatements(tokens []sqlToken) int {
	count := 0
	current := 0

	for _, tok := range tokens {
		if isPunct(tok, ";") {
			if current > 0 {
				count++
			}
			current = 0
			continue
		}
		current++
	}

	if current > 0 {
		count++
	}

	return count
}

// parensBalanced checks parenthesis nesting across the statement
func parensBalanced(tokens []sqlToken) bool {
	depth := 0

	for _, tok := range tokens {
		if tok.IsString || tok.IsIdent {
			continue
		}
		switch tok.Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return false
			}
		}
	}

	return depth == 0
}

// firstKeyword returns the first identifier token lowercased, skipping
// leading parentheses so (SELECT ...) UNION ... still reads as a query
func firstKeyword(tokens []sqlToken) string {
	for _, tok := range tokens {
		if tok.IsIdent {
			return strings.ToLower(tok.Text)
		}
		if tok.Text != "(" {
			return ""
		}
	}

	return ""
}

// writeKeywords are statement verbs that modify data or schema. Matching
// happens on whole tokens, a column like last_update never trips it.
var writeKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"alter": true, "create": true, "truncate": true, "grant": true,
	"revoke": true, "merge": true, "replace": true, "vacuum": true,
	"attach": true, "detach": true, "copy": true, "call": true,
}

// findWriteKeywords returns the distinct write verbs present in the stream.
// A keyword directly followed by "(" is a function call, replace() and
// truncate() are ordinary scalar functions in a SELECT. Statement verbs are
// followed by an identifier (INSERT INTO, DROP TABLE, CALL proc) so they
// still match.
func findWriteKeywords(tokens []sqlToken) []string {
	var found []string
	seen := make(map[string]bool)

	for i, tok := range tokens {
		if !tok.IsIdent {
			continue
		}
		lower := strings.ToLower(tok.Text)
		if !writeKeywords[lower] || seen[lower] {
			continue
		}
		if i+1 < len(tokens) && isPunct(tokens[i+1], "(") {
			continue
		}
		found = append(found, lower)
		seen[lower] = true
	}

	return found
}

// sqlKeywords are identifiers that never act as column references
var sqlKeywords = map[string]bool{
	"select": true, "distinct": true, "from": true, "where": true,
	"group": true, "by": true, "order": true, "having": true,
	"limit": true, "offset": true, "fetch": true, "next": true, "only": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"outer": true, "cross": true, "natural": true, "on": true, "using": true,
	"as": true, "and": true, "or": true, "not": true, "in": true,
	"is": true, "null": true, "like": true, "ilike": true, "glob": true,
	"similar": true, "escape": true, "between": true, "collate": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"union": true, "all": true, "intersect": true, "except": true,
	"with": true, "recursive": true, "asc": true, "desc": true,
	"nulls": true, "first": true, "last": true, "cast": true, "to": true,
	"interval": true, "exists": true, "any": true, "some": true,
	"extract": true, "epoch": true, "true": true, "false": true,
	"filter": true, "over": true, "partition": true, "rows": true,
	"range": true, "unbounded": true, "preceding": true, "following": true,
	"current": true, "row": true, "qualify": true, "window": true,
	"values": true,
	"day": true, "days": true, "week": true, "weeks": true,
	"month": true, "months": true, "quarter": true, "quarters": true,
	"year": true, "years": true, "hour": true, "hours": true,
	"minute": true, "minutes": true, "second": true, "seconds": true,
	"current_date": true, "current_timestamp": true, "current_time": true,
}

// clauseKeywords are words that terminate a relation reference, an
// identifier from this set after a table name is never its alias
var clauseKeywords = map[string]bool{
	"where": true, "on": true, "group": true, "order": true, "having": true,
	"limit": true, "offset": true, "join": true, "inner": true, "left": true,
	"right": true, "full": true, "cross": true, "outer": true, "union": true,
	"using": true, "natural": true, "qualify": true, "window": true,
	"intersect": true, "except": true, "fetch": true, "for": true,
}

func isClauseKeyword(s string) bool {
	return clauseKeywords[strings.ToLower(s)]
}

// fromSyntaxFuncs take a FROM keyword as part of their call syntax,
// EXTRACT(EPOCH FROM date) must not read as a relation list
var fromSyntaxFuncs = map[string]bool{
	"extract": true, "substring": true, "trim": true,
	"position": true, "overlay": true,
}

// scanStatement walks the token stream once, collecting relation
// references from FROM and JOIN clauses plus identifiers that act as
// column references everywhere else
func scanStatement(tokens []sqlToken) ([]tableRef, []columnRef) {
	var refs []tableRef
	var cols []columnRef

	// Expression aliases (SELECT ... AS total, CAST(x AS DATE)) are
	// legal in ORDER BY and GROUP BY, never validate them as columns
	aliases := make(map[string]bool)
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].IsIdent && strings.EqualFold(tokens[i].Text, "as") && tokens[i+1].IsIdent {
			aliases[strings.ToLower(tokens[i+1].Text)] = true
		}
	}

	var funcStack []string
	pendingFunc := ""

	i := 0
	for i < len(tokens) {
		tok := tokens[i]

		if !tok.IsIdent {
			switch tok.Text {
			case "(":
				funcStack = append(funcStack, pendingFunc)
			case ")":
				if len(funcStack) > 0 {
					funcStack = funcStack[:len(funcStack)-1]
				}
			}
			pendingFunc = ""
			i++
			continue
		}

		lower := strings.ToLower(tok.Text)
		pendingFunc = ""

		inFromFunc := len(funcStack) > 0 && fromSyntaxFuncs[funcStack[len(funcStack)-1]]

		if (lower == "from" || lower == "join") && !inFromFunc {
			i = parseTableList(tokens, i+1, lower == "from", &refs)
			continue
		}

		// Qualified reference m.installs, or m.* which needs no check
		if i+2 < len(tokens) && isPunct(tokens[i+1], ".") {
			if tokens[i+2].IsIdent {
				cols = append(cols, columnRef{
					Qualifier: lower,
					Name:      strings.ToLower(tokens[i+2].Text),
				})
			}
			i += 3
			continue
		}

		// Function call, the name is not a column
		if i+1 < len(tokens) && isPunct(tokens[i+1], "(") {
			pendingFunc = lower
			i++
			continue
		}

		if sqlKeywords[lower] {
			i++
			continue
		}

		// Identifier right after a closing paren is a derived table alias
		if i > 0 && isPunct(tokens[i-1], ")") {
			i++
			continue
		}

		if aliases[lower] {
			i++
			continue
		}

		cols = append(cols, columnRef{Name: lower})
		i++
	}

	// Relation names and their aliases are not column references
	relations := make(map[string]bool)
	for _, ref := range refs {
		relations[ref.Name] = true
		if ref.Alias != "" {
			relations[ref.Alias] = true
		}
	}

	filtered := cols[:0]
	for _, col := range cols {
		if col.Qualifier == "" && relations[col.Name] {
			continue
		}
		filtered = append(filtered, col)
	}

	return refs, filtered
}

// parseTableList consumes the relation list following FROM or JOIN and
// returns the index of the first token past it. Subqueries are left in
// place so the main scan still visits their interior clauses.
func parseTableList(tokens []sqlToken, i int, allowList bool, refs *[]tableRef) int {
	for {
		if i >= len(tokens) {
			return i
		}

		if !tokens[i].IsIdent {
			return i
		}

		name := tokens[i].Text
		i++

		// Qualified name, keep the final segment
		for i+1 < len(tokens) && isPunct(tokens[i], ".") && tokens[i+1].IsIdent {
			name = tokens[i+1].Text
			i += 2
		}

		ref := tableRef{Name: strings.ToLower(name)}

		if i < len(tokens) && tokens[i].IsIdent && strings.EqualFold(tokens[i].Text, "as") {
			i++
		}

		if i < len(tokens) && tokens[i].IsIdent && !isClauseKeyword(tokens[i].Text) {
			ref.Alias = strings.ToLower(tokens[i].Text)
			i++
		}

		*refs = append(*refs, ref)

		if allowList && i < len(tokens) && isPunct(tokens[i], ",") {
			i++
			continue
		}

		return i
	}
}

// collectCTENames gathers WITH clause names so they validate as relations
func collectCTENames(tokens []sqlToken) map[string]bool {
	ctes := make(map[string]bool)

	for i := 0; i < len(tokens); i++ {
		if !tokens[i].IsIdent || !strings.EqualFold(tokens[i].Text, "with") {
			continue
		}

		j := i + 1
		if j < len(tokens) && tokens[j].IsIdent && strings.EqualFold(tokens[j].Text, "recursive") {
			j++
		}

		for j+2 < len(tokens) && tokens[j].IsIdent &&
			strings.EqualFold(tokens[j+1].Text, "as") && isPunct(tokens[j+2], "(") {
			ctes[strings.ToLower(tokens[j].Text)] = true

			// Skip the CTE body to find the next definition
			depth := 0
			k := j + 2
			for ; k < len(tokens); k++ {
				if tokens[k].IsIdent || tokens[k].IsString {
					continue
				}
				if tokens[k].Text == "(" {
					depth++
				} else if tokens[k].Text == ")" {
					depth--
					if depth == 0 {
						k++
						break
					}
				}
			}

			if k < len(tokens) && isPunct(tokens[k], ",") {
				j = k + 1
				continue
			}
			break
		}
	}

	return ctes
}

// hasDerivedTable reports whether any FROM or JOIN target is a subquery.
// Column checks go conservative in that case, a qualifier that resolves
// to nothing may belong to the derived relation.
func hasDerivedTable(tokens []sqlToken) bool {
	for i := 0; i+1 < len(tokens); i++ {
		if !tokens[i].IsIdent {
			continue
		}
		lower := strings.ToLower(tokens[i].Text)
		if (lower == "from" || lower == "join") && isPunct(tokens[i+1], "(") {
			return true
		}
	}

	return false
}
