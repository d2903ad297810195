package llm

import (
	"context"

	"github.com/kyleking/askmetrics/internal/types"
)

// Service defines the interface for LLM operations
type Service interface {
	GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	SummarizeResult(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error)
	ClassifyIntent(ctx context.Context, question string) (*IntentResponse, error)
	Configure(config Config) error
}

// Config represents LLM service configuration
type Config struct {
	Provider    string            `json:"provider"` // openai, anthropic, ollama, local
	Model       string            `json:"model"`
	APIKey      string            `json:"api_key,omitempty"`
	BaseURL     string            `json:"base_url,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// GenerateRequest carries everything the model needs to draft a SQL query.
// PriorFailures holds validation messages from rejected attempts so the
// model can correct itself on repair rounds.
type GenerateRequest struct {
	Question      string
	Schema        types.Schema
	Dialect       string   // duckdb or postgres
	PriorFailures []string // validation messages from rejected candidates
	History       []string // recent questions for follow-up context
}

// GenerateResponse represents a drafted SQL candidate
type GenerateResponse struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// SummarizeRequest carries an executed result set for narration
type SummarizeRequest struct {
	Question  string
	SQL       string
	Columns   []string
	Rows      [][]interface{}
	RowCount  int
	Truncated bool
}

// SummaryResponse represents a natural language answer to a question
type SummaryResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// IntentResponse represents a classified question intent
type IntentResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLocal     = "local"
	ProviderOllama    = "ollama"
)

// Model constants for common models
const (
	ModelGPT4oMini = "gpt-4o-mini"
	ModelGPT4o     = "gpt-4o"
	ModelClaude    = "claude-sonnet-4-20250514"
	ModelLlama     = "llama3.2"
	ModelSQLCoder  = "sqlcoder"
)
