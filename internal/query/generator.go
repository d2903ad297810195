package query

import (
	"context"
	"strings"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/llm"
)

// Candidate represents one drafted SQL query before validation
type Candidate struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
	Attempt     int     `json:"attempt"`
}

// Generator drafts SQL candidates from natural language questions
type Generator struct {
	llmService llm.Service
}

// NewGenerator creates a new candidate generator
func NewGenerator(llmService llm.Service) *Generator {
	return &Generator{
		llmService: llmService,
	}
}

// Draft asks the model for one SQL candidate and sanitizes the result
func (g *Generator) Draft(ctx context.Context, req llm.GenerateRequest) (*Candidate, error) {
	response, err := g.llmService.GenerateSQL(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to draft SQL candidate")
	}

	// An empty draft is not an error here. The validator rejects it as a
	// syntax violation, which feeds the next repair round.
	return &Candidate{
		SQL:         SanitizeSQL(response.SQL),
		Explanation: response.Explanation,
		Confidence:  response.Confidence,
	}, nil
}

// SanitizeSQL strips markdown fences and trailing semicolons that models
// habitually wrap around generated queries. Interior semicolons are kept
// so multi-statement payloads still fail validation.
func SanitizeSQL(raw string) string {
	sql := strings.TrimSpace(raw)

	if strings.HasPrefix(sql, "```") {
		if idx := strings.Index(sql, "\n"); idx >= 0 {
			sql = sql[idx+1:]
		} else {
			sql = strings.TrimPrefix(sql, "```sql")
			sql = strings.TrimPrefix(sql, "```")
		}
		sql = strings.TrimSuffix(strings.TrimSpace(sql), "```")
		sql = strings.TrimSpace(sql)
	}

	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}

	return sql
}
