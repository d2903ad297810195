package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyleking/askmetrics/internal/types"
)

// Client implements the Service interface with multiple provider support
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Configure updates the client configuration
func (c *Client) Configure(config Config) error {
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	if config.Model == "" {
		return fmt.Errorf("model is required")
	}

	// Validate provider-specific requirements
	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return fmt.Errorf("API key is required for OpenAI provider")
		}
		if config.BaseURL == "" {
			config.BaseURL = "https://api.openai.com/v1"
		}
	case ProviderAnthropic:
		if config.APIKey == "" {
			return fmt.Errorf("API key is required for Anthropic provider")
		}
		if config.BaseURL == "" {
			config.BaseURL = "https://api.anthropic.com/v1"
		}
	case ProviderLocal, ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
	default:
		return fmt.Errorf("unsupported provider: %s", config.Provider)
	}

	if config.Temperature == 0 {
		config.Temperature = 0.1
	}

	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	c.config = config

	return nil
}

// GenerateSQL drafts a SQL candidate for a natural language question
func (c *Client) GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	content, err := c.complete(ctx, c.buildGeneratePrompt(req))
	if err != nil {
		return nil, err
	}

	var response GenerateResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &response); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}

	// Empty SQL passes through, the validator turns it into a repairable
	// syntax violation rather than a dead request.
	return &response, nil
}

// SummarizeResult narrates an executed result set in natural language
func (c *Client) SummarizeResult(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	content, err := c.complete(ctx, c.buildSummarizePrompt(req))
	if err != nil {
		return nil, err
	}

	var response SummaryResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &response); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}

	if strings.TrimSpace(response.Answer) == "" {
		return nil, fmt.Errorf("model returned empty answer")
	}

	return &response, nil
}

// ClassifyIntent determines what kind of request a message is
func (c *Client) ClassifyIntent(ctx context.Context, question string) (*IntentResponse, error) {
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	content, err := c.complete(ctx, c.buildIntentPrompt(question))
	if err != nil {
		return nil, err
	}

	var response IntentResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &response); err != nil {
		return nil, fmt.Errorf("failed to parse intent response: %w", err)
	}

	return &response, nil
}

// complete sends a prompt to the configured provider and returns the raw content
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	switch c.config.Provider {
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, prompt)
	case ProviderAnthropic:
		return c.completeAnthropic(ctx, prompt)
	case ProviderLocal, ProviderOllama:
		return c.completeOllama(ctx, prompt)
	default:
		return "", fmt.Errorf("unsupported provider: %s", c.config.Provider)
	}
}

// buildGeneratePrompt constructs the SQL generation prompt from the question,
// the live schema, session history, and any validation failures from
// previous attempts
func (c *Client) buildGeneratePrompt(req GenerateRequest) string {
	var sb strings.Builder

	dialect := dialectName(req.Dialect)

	sb.WriteString(fmt.Sprintf(`You are a SQL generator for a mobile app metrics database. Draft one %s query that answers the user's question.

Schema:
%s`, dialect, formatSchema(req.Schema)))

	if len(req.History) > 0 {
		sb.WriteString("\nRecent questions from this session, oldest first:\n")
		for _, q := range req.History {
			sb.WriteString(fmt.Sprintf("- %s\n", q))
		}
	}

	if len(req.PriorFailures) > 0 {
		sb.WriteString("\nYour previous attempts were rejected. Fix these problems:\n")
		for _, f := range req.PriorFailures {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
	}

	sb.WriteString(fmt.Sprintf(`
Question: %q

Respond with JSON in this exact format:
{
  "sql": "SELECT ...",
  "explanation": "Brief explanation of what the query does",
  "confidence": 0.95,
  "reasoning": "Why this query answers the question"
}

Guidelines:
- Use %s syntax
- Generate exactly one SELECT statement
- Never write INSERT, UPDATE, DELETE, DROP, or ALTER statements
- Only reference tables and columns shown in the schema
- Prefer aggregates over raw row dumps for "how much" and "how many" questions
- Add a LIMIT when selecting raw rows
- Date columns are DATE typed, filter with ranges like date >= CURRENT_DATE - %s
- Confidence reflects how well the schema covers the question (0.0-1.0)`,
		req.Question, dialect, sqlInterval(req.Dialect, 7)))

	return sb.String()
}

// buildSummarizePrompt constructs the result narration prompt
func (c *Client) buildSummarizePrompt(req SummarizeRequest) string {
	truncNote := ""
	if req.Truncated {
		truncNote = "\nThe result set was truncated, mention that more rows exist."
	}

	return fmt.Sprintf(`You are summarizing a SQL query result for a non-technical reader.

Question: %q
SQL: %s
Rows returned: %d%s

Result:
%s
Respond with JSON in this exact format:
{
  "answer": "One or two sentences answering the question with the key numbers",
  "confidence": 0.9
}

Guidelines:
- Answer the question directly and lead with the number
- Round currency to two decimals and label it USD
- If the result is empty, say that no matching data was found`,
		req.Question, req.SQL, req.RowCount, truncNote, formatRows(req.Columns, req.Rows))
}

// buildIntentPrompt constructs the intent classification prompt
func (c *Client) buildIntentPrompt(question string) string {
	return fmt.Sprintf(`Classify the intent of this message sent to a metrics question answering agent.

Message: %q

Intents:
- greeting: hellos, thanks, small talk
- sql_query: a question answerable from the metrics database
- show_sql: asking to see the SQL behind the previous answer
- export_csv: asking to export or download results
- unknown: anything else

Respond with JSON in this exact format:
{
  "intent": "sql_query",
  "confidence": 0.95
}`, question)
}

// formatSchema renders a schema snapshot for inclusion in prompts
func formatSchema(schema types.Schema) string {
	var sb strings.Builder

	for _, name := range schema.TableNames() {
		table, _ := schema.Table(name)

		sb.WriteString(fmt.Sprintf("Table: %s", table.Name))
		if table.EstimatedRows >= 0 {
			sb.WriteString(fmt.Sprintf(" (~%d rows)", table.EstimatedRows))
		}
		sb.WriteString("\nColumns:\n")

		for _, col := range table.Columns {
			nullable := "NOT NULL"
			if col.Nullable {
				nullable = "NULL"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s, %s)", col.Name, col.Type, nullable))
			if col.Description != "" {
				sb.WriteString(fmt.Sprintf(" // %s", col.Description))
			}
			sb.WriteString("\n")
		}

		if len(table.Indexes) > 0 {
			sb.WriteString("Indexes:\n")
			for _, idx := range table.Indexes {
				sb.WriteString(fmt.Sprintf("  - %s (%s)\n", idx.Name, strings.Join(idx.Columns, ", ")))
			}
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

// maxPromptRows caps how many result rows go into a summary prompt
const maxPromptRows = 20

// formatRows renders result rows as a compact text table for prompts
func formatRows(columns []string, rows [][]interface{}) string {
	var sb strings.Builder

	sb.WriteString(strings.Join(columns, " | "))
	sb.WriteString("\n")

	for i, row := range rows {
		if i >= maxPromptRows {
			sb.WriteString(fmt.Sprintf("... and %d more rows\n", len(rows)-maxPromptRows))
			break
		}

		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = fmt.Sprintf("%v", v)
		}

		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}

	return sb.String()
}

// dialectName maps a driver name to the label used in prompts
func dialectName(dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return "PostgreSQL"
	default:
		return "DuckDB"
	}
}

// extractJSON trims markdown code fences that some models wrap around
// JSON payloads despite instructions
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	return strings.TrimSpace(content)
}

// OpenAI API types

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	request := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	respBody, err := c.makeOpenAIRequest(ctx, "/chat/completions", request)
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

func (c *Client) makeOpenAIRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Anthropic API types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	request := anthropicRequest{
		Model: c.config.Model,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.config.MaxTokens,
		System:    "Respond with a single JSON object and nothing else.",
	}

	respBody, err := c.makeAnthropicRequest(ctx, "/messages", request)
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no response from Anthropic")
	}

	return response.Content[0].Text, nil
}

func (c *Client) makeAnthropicRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Ollama API types

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	request := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	respBody, err := c.makeOllamaRequest(ctx, "/api/generate", request)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

func (c *Client) makeOllamaRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
