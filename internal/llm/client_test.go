package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kyleking/askmetrics/internal/types"
)

func metricsTestSchema() types.Schema {
	return types.Schema{
		Tables: map[string]types.Table{
			"app_metrics": {
				Name: "app_metrics",
				Columns: []types.Column{
					{Name: "id", Type: "INTEGER"},
					{Name: "app_name", Type: "VARCHAR", Description: "Application display name"},
					{Name: "platform", Type: "VARCHAR", Description: "iOS or Android"},
					{Name: "date", Type: "DATE"},
					{Name: "country", Type: "VARCHAR"},
					{Name: "installs", Type: "INTEGER"},
					{Name: "in_app_revenue", Type: "DECIMAL(12,2)", Description: "Purchase revenue in USD"},
					{Name: "ads_revenue", Type: "DECIMAL(12,2)"},
					{Name: "ua_cost", Type: "DECIMAL(12,2)", Description: "User acquisition spend in USD"},
				},
				Indexes: []types.Index{
					{Name: "idx_app_metrics_date", Columns: []string{"date"}},
				},
				EstimatedRows: 5000,
			},
		},
	}
}

func TestClient_Configure(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid OpenAI config",
			config: Config{
				Provider: ProviderOpenAI,
				Model:    ModelGPT4oMini,
				APIKey:   "test-key",
			},
			wantErr: false,
		},
		{
			name: "valid Anthropic config",
			config: Config{
				Provider: ProviderAnthropic,
				Model:    ModelClaude,
				APIKey:   "test-key",
			},
			wantErr: false,
		},
		{
			name: "valid Ollama config",
			config: Config{
				Provider: ProviderOllama,
				Model:    ModelLlama,
				BaseURL:  "http://localhost:11434",
			},
			wantErr: false,
		},
		{
			name: "missing provider",
			config: Config{
				Model:  ModelGPT4oMini,
				APIKey: "test-key",
			},
			wantErr: true,
		},
		{
			name: "missing model",
			config: Config{
				Provider: ProviderOpenAI,
				APIKey:   "test-key",
			},
			wantErr: true,
		},
		{
			name: "missing API key for OpenAI",
			config: Config{
				Provider: ProviderOpenAI,
				Model:    ModelGPT4oMini,
			},
			wantErr: true,
		},
		{
			name: "unsupported provider",
			config: Config{
				Provider: "unsupported",
				Model:    "test-model",
				APIKey:   "test-key",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Config{})
			err := client.Configure(tt.config)

			if (err != nil) != tt.wantErr {
				t.Errorf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr && client.config.Provider != tt.config.Provider {
				t.Errorf("Configure() did not set provider correctly")
			}
		})
	}
}

func TestClient_ConfigureDefaults(t *testing.T) {
	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "test-key",
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if client.config.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("Expected default base URL, got %s", client.config.BaseURL)
	}

	if client.config.Temperature != 0.1 {
		t.Errorf("Expected default temperature 0.1, got %f", client.config.Temperature)
	}

	if client.config.MaxTokens != 1024 {
		t.Errorf("Expected default max tokens 1024, got %d", client.config.MaxTokens)
	}
}

func TestClient_GenerateSQLOpenAI(t *testing.T) {
	// Mock OpenAI API server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header with Bearer token")
		}

		var request openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		if len(request.Messages) != 1 || !strings.Contains(request.Messages[0].Content, "revenue last week") {
			t.Errorf("Expected prompt to contain the question")
		}

		if request.ResponseFormat == nil || request.ResponseFormat.Type != "json_object" {
			t.Errorf("Expected json_object response format")
		}

		response := openAIResponse{
			Choices: []openAIChoice{
				{
					Message: openAIMessage{
						Content: `{
							"sql": "SELECT SUM(in_app_revenue + ads_revenue) AS total_revenue FROM app_metrics WHERE date >= CURRENT_DATE - INTERVAL 7 DAY",
							"explanation": "Sums both revenue streams over the last 7 days",
							"confidence": 0.95,
							"reasoning": "Revenue means in-app plus ads revenue"
						}`,
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.GenerateSQL(ctx, GenerateRequest{
		Question: "how much revenue last week?",
		Schema:   metricsTestSchema(),
		Dialect:  "duckdb",
	})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}

	if !strings.Contains(resp.SQL, "SUM(in_app_revenue + ads_revenue)") {
		t.Errorf("Unexpected SQL: %s", resp.SQL)
	}

	if resp.Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %f", resp.Confidence)
	}
}

func TestClient_GenerateSQLOpenAI_Error(t *testing.T) {
	// Mock OpenAI API server with error response
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := openAIResponse{
			Error: &openAIError{
				Message: "Invalid API key",
				Type:    "invalid_request_error",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "invalid-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	_, err = client.GenerateSQL(ctx, GenerateRequest{Question: "total installs", Schema: metricsTestSchema()})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("Expected error to contain 'Invalid API key', got: %v", err)
	}
}

func TestClient_GenerateSQLAnthropic(t *testing.T) {
	// Mock Anthropic API server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("Expected path /messages, got %s", r.URL.Path)
		}

		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header with test-key")
		}

		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("Expected anthropic-version header")
		}

		response := anthropicResponse{
			Content: []anthropicContent{
				{
					Type: "text",
					Text: `{
						"sql": "SELECT SUM(installs) AS total_installs FROM app_metrics WHERE platform = 'iOS'",
						"explanation": "Counts iOS installs",
						"confidence": 0.9,
						"reasoning": "Platform filter applied"
					}`,
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderAnthropic,
		Model:    ModelClaude,
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.GenerateSQL(ctx, GenerateRequest{
		Question: "iOS installs?",
		Schema:   metricsTestSchema(),
	})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}

	if !strings.Contains(resp.SQL, "SUM(installs)") {
		t.Errorf("Unexpected SQL: %s", resp.SQL)
	}

	if resp.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", resp.Confidence)
	}
}

func TestClient_GenerateSQLOllama(t *testing.T) {
	// Mock Ollama API server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		response := ollamaResponse{
			Response: `{
				"sql": "SELECT country, SUM(installs) AS total_installs FROM app_metrics GROUP BY country ORDER BY total_installs DESC",
				"explanation": "Installs by country",
				"confidence": 0.7,
				"reasoning": "Grouped by country"
			}`,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOllama,
		Model:    ModelLlama,
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.GenerateSQL(ctx, GenerateRequest{
		Question: "installs by country",
		Schema:   metricsTestSchema(),
	})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}

	if !strings.Contains(resp.SQL, "GROUP BY country") {
		t.Errorf("Unexpected SQL: %s", resp.SQL)
	}

	if resp.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %f", resp.Confidence)
	}
}

func TestClient_GenerateSQLFencedJSON(t *testing.T) {
	// Some models wrap the JSON payload in markdown fences
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := ollamaResponse{
			Response: "```json\n{\"sql\": \"SELECT SUM(ua_cost) AS total_spend FROM app_metrics\", \"explanation\": \"Total spend\", \"confidence\": 0.8, \"reasoning\": \"\"}\n```",
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOllama,
		Model:    ModelLlama,
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.GenerateSQL(ctx, GenerateRequest{Question: "total spend", Schema: metricsTestSchema()})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}

	if resp.SQL != "SELECT SUM(ua_cost) AS total_spend FROM app_metrics" {
		t.Errorf("Unexpected SQL: %s", resp.SQL)
	}
}

func TestClient_GenerateSQLEmptySQL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := ollamaResponse{
			Response: `{"sql": "", "explanation": "", "confidence": 0.1, "reasoning": ""}`,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOllama,
		Model:    ModelLlama,
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.GenerateSQL(ctx, GenerateRequest{Question: "anything", Schema: metricsTestSchema()})
	if err != nil {
		t.Fatalf("Empty SQL is for the validator to reject, got error: %v", err)
	}

	if resp.SQL != "" {
		t.Errorf("Unexpected SQL: %s", resp.SQL)
	}
}

func TestClient_SummarizeResultOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := openAIResponse{
			Choices: []openAIChoice{
				{
					Message: openAIMessage{
						Content: `{"answer": "Total revenue last week was 12,450.80 USD.", "confidence": 0.9}`,
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	summary, err := client.SummarizeResult(ctx, SummarizeRequest{
		Question: "how much revenue last week?",
		SQL:      "SELECT SUM(in_app_revenue + ads_revenue) FROM app_metrics",
		Columns:  []string{"total_revenue"},
		Rows:     [][]interface{}{{12450.80}},
		RowCount: 1,
	})
	if err != nil {
		t.Fatalf("SummarizeResult() error = %v", err)
	}

	if !strings.Contains(summary.Answer, "12,450.80") {
		t.Errorf("Unexpected answer: %s", summary.Answer)
	}

	if summary.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", summary.Confidence)
	}
}

func TestClient_ClassifyIntentOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := openAIResponse{
			Choices: []openAIChoice{
				{
					Message: openAIMessage{
						Content: `{"intent": "greeting", "confidence": 0.97}`,
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	resp, err := client.ClassifyIntent(ctx, "hello there")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}

	if resp.Intent != "greeting" {
		t.Errorf("Expected intent greeting, got %s", resp.Intent)
	}
}

func TestClient_UnconfiguredError(t *testing.T) {
	client := NewClient(Config{})

	ctx := context.Background()

	_, err := client.GenerateSQL(ctx, GenerateRequest{Question: "total installs", Schema: metricsTestSchema()})
	if err == nil {
		t.Error("Expected error for unconfigured client, got nil")
	}

	_, err = client.SummarizeResult(ctx, SummarizeRequest{Question: "total installs"})
	if err == nil {
		t.Error("Expected error for unconfigured client, got nil")
	}
}

func TestClient_HTTPError(t *testing.T) {
	// Mock server that returns HTTP error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewClient(Config{})
	err := client.Configure(Config{
		Provider: ProviderOpenAI,
		Model:    ModelGPT4oMini,
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to configure client: %v", err)
	}

	ctx := context.Background()
	_, err = client.GenerateSQL(ctx, GenerateRequest{Question: "total installs", Schema: metricsTestSchema()})

	if err == nil {
		t.Fatal("Expected error for HTTP 500, got nil")
	}

	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected error to contain '500', got: %v", err)
	}
}

func TestBuildGeneratePrompt(t *testing.T) {
	client := NewClient(Config{})

	req := GenerateRequest{
		Question:      "how much did we spend on UA in Germany?",
		Schema:        metricsTestSchema(),
		Dialect:       "duckdb",
		PriorFailures: []string{"unknown column: spend"},
		History:       []string{"what was revenue yesterday?"},
	}

	prompt := client.buildGeneratePrompt(req)

	if !strings.Contains(prompt, "how much did we spend on UA in Germany?") {
		t.Error("Prompt should contain the user question")
	}

	if !strings.Contains(prompt, "app_metrics") {
		t.Error("Prompt should contain table name")
	}

	if !strings.Contains(prompt, "ua_cost") {
		t.Error("Prompt should contain column names")
	}

	if !strings.Contains(prompt, "User acquisition spend in USD") {
		t.Error("Prompt should contain column descriptions")
	}

	if !strings.Contains(prompt, "unknown column: spend") {
		t.Error("Prompt should contain prior failures")
	}

	if !strings.Contains(prompt, "what was revenue yesterday?") {
		t.Error("Prompt should contain session history")
	}

	if !strings.Contains(prompt, "one SELECT statement") {
		t.Error("Prompt should instruct a single statement")
	}
}

func TestBuildSummarizePrompt(t *testing.T) {
	client := NewClient(Config{})

	req := SummarizeRequest{
		Question:  "installs by platform?",
		SQL:       "SELECT platform, SUM(installs) FROM app_metrics GROUP BY platform",
		Columns:   []string{"platform", "total_installs"},
		Rows:      [][]interface{}{{"iOS", 1200}, {"Android", 3400}},
		RowCount:  2,
		Truncated: true,
	}

	prompt := client.buildSummarizePrompt(req)

	if !strings.Contains(prompt, "installs by platform?") {
		t.Error("Prompt should contain the question")
	}

	if !strings.Contains(prompt, "GROUP BY platform") {
		t.Error("Prompt should contain the SQL")
	}

	if !strings.Contains(prompt, "iOS | 1200") {
		t.Error("Prompt should contain the result rows")
	}

	if !strings.Contains(prompt, "truncated") {
		t.Error("Prompt should mention truncation")
	}
}

func TestFormatSchema(t *testing.T) {
	rendered := formatSchema(metricsTestSchema())

	if !strings.Contains(rendered, "Table: app_metrics (~5000 rows)") {
		t.Errorf("Expected table header with row estimate, got:\n%s", rendered)
	}

	if !strings.Contains(rendered, "in_app_revenue (DECIMAL(12,2), NOT NULL)") {
		t.Errorf("Expected column line, got:\n%s", rendered)
	}

	if !strings.Contains(rendered, "idx_app_metrics_date (date)") {
		t.Errorf("Expected index line, got:\n%s", rendered)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain JSON",
			content:  `{"sql": "SELECT 1"}`,
			expected: `{"sql": "SELECT 1"}`,
		},
		{
			name:     "fenced JSON",
			content:  "```json\n{\"sql\": \"SELECT 1\"}\n```",
			expected: `{"sql": "SELECT 1"}`,
		},
		{
			name:     "fenced without language",
			content:  "```\n{\"sql\": \"SELECT 1\"}\n```",
			expected: `{"sql": "SELECT 1"}`,
		},
		{
			name:     "surrounding whitespace",
			content:  "\n  {\"sql\": \"SELECT 1\"}  \n",
			expected: `{"sql": "SELECT 1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.content); got != tt.expected {
				t.Errorf("extractJSON() = %q, want %q", got, tt.expected)
			}
		})
	}
}
