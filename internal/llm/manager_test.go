package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/kyleking/askmetrics/internal/errors"
)

// MockService implements the Service interface for testing
type MockService struct {
	generateFunc   func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	summarizeFunc  func(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error)
	classifyFunc   func(ctx context.Context, question string) (*IntentResponse, error)
	configureFunc  func(config Config) error
	shouldFail     bool
	failAfterCalls int
	callCount      int
}

func (m *MockService) GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	m.callCount++
	if m.shouldFail || (m.failAfterCalls > 0 && m.callCount <= m.failAfterCalls) {
		return nil, errors.New("mock service error")
	}
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return &GenerateResponse{
		SQL:        "SELECT SUM(installs) AS total_installs FROM app_metrics",
		Confidence: 0.8,
	}, nil
}

func (m *MockService) SummarizeResult(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error) {
	m.callCount++
	if m.shouldFail || (m.failAfterCalls > 0 && m.callCount <= m.failAfterCalls) {
		return nil, errors.New("mock service error")
	}
	if m.summarizeFunc != nil {
		return m.summarizeFunc(ctx, req)
	}
	return &SummaryResponse{
		Answer:     "Mock answer",
		Confidence: 0.8,
	}, nil
}

func (m *MockService) ClassifyIntent(ctx context.Context, question string) (*IntentResponse, error) {
	m.callCount++
	if m.shouldFail || (m.failAfterCalls > 0 && m.callCount <= m.failAfterCalls) {
		return nil, errors.New("mock service error")
	}
	if m.classifyFunc != nil {
		return m.classifyFunc(ctx, question)
	}
	return &IntentResponse{
		Intent:     "sql_query",
		Confidence: 0.8,
	}, nil
}

func (m *MockService) Configure(config Config) error {
	if m.configureFunc != nil {
		return m.configureFunc(config)
	}
	return nil
}

func TestManager_RegisterProvider(t *testing.T) {
	manager := NewManager(DefaultManagerConfig())

	tests := []struct {
		name         string
		providerName string
		service      Service
		wantErr      bool
	}{
		{
			name:         "valid provider",
			providerName: "test-provider",
			service:      &MockService{},
			wantErr:      false,
		},
		{
			name:         "empty name",
			providerName: "",
			service:      &MockService{},
			wantErr:      true,
		},
		{
			name:         "nil service",
			providerName: "test-provider",
			service:      nil,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.RegisterProvider(tt.providerName, tt.service)
			if (err != nil) != tt.wantErr {
				t.Errorf("RegisterProvider() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr && !manager.IsProviderRegistered(tt.providerName) {
				t.Errorf("Provider %s should be registered", tt.providerName)
			}
		})
	}
}

func TestManager_Configure(t *testing.T) {
	manager := NewManager(DefaultManagerConfig())
	mockService := &MockService{}

	err := manager.RegisterProvider("test-provider", mockService)
	if err != nil {
		t.Fatalf("Failed to register provider: %v", err)
	}

	err = manager.Configure(Config{Provider: "test-provider", Model: "test-model"})
	if err != nil {
		t.Errorf("Configure() error = %v", err)
	}

	err = manager.Configure(Config{Provider: "unknown-provider", Model: "test-model"})
	if err == nil {
		t.Error("Expected error for unregistered provider")
	}
}

func TestManager_GenerateSQLWithFallback(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider:   "primary",
		FallbackProviders: []string{"secondary"},
		RetryAttempts:     1,
		RetryDelay:        time.Millisecond * 10,
		Timeout:           time.Second * 5,
		EnableFallback:    true,
	}
	manager := NewManager(config)

	primaryService := &MockService{shouldFail: true}
	secondaryService := &MockService{shouldFail: false}

	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	if err := manager.RegisterProvider("secondary", secondaryService); err != nil {
		t.Fatalf("Failed to register secondary provider: %v", err)
	}

	ctx := context.Background()
	resp, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "total installs"})

	if err != nil {
		t.Fatalf("GenerateSQL() should succeed with fallback, got error: %v", err)
	}

	if resp.SQL != "SELECT SUM(installs) AS total_installs FROM app_metrics" {
		t.Errorf("Expected mock SQL, got: %s", resp.SQL)
	}
}

func TestManager_GenerateSQLWithRuleFallback(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider:   "primary",
		FallbackProviders: []string{},
		RetryAttempts:     0,
		EnableFallback:    true,
	}
	manager := NewManager(config)

	primaryService := &MockService{shouldFail: true}
	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx := context.Background()
	resp, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "how much revenue last week?", Dialect: "duckdb"})

	if err != nil {
		t.Fatalf("GenerateSQL() should succeed with rule-based fallback, got error: %v", err)
	}

	// Rule-based generation reports low confidence
	if resp.Confidence >= 0.5 {
		t.Errorf("Expected low confidence from rule-based fallback, got: %f", resp.Confidence)
	}

	if !strings.Contains(resp.SQL, "app_metrics") {
		t.Errorf("Expected fallback SQL against app_metrics, got: %s", resp.SQL)
	}
}

func TestManager_GenerateSQLAllProvidersFail(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider:   "primary",
		FallbackProviders: []string{"secondary"},
		RetryAttempts:     0,
		EnableFallback:    false,
	}
	manager := NewManager(config)

	primaryService := &MockService{shouldFail: true}
	secondaryService := &MockService{shouldFail: true}

	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	if err := manager.RegisterProvider("secondary", secondaryService); err != nil {
		t.Fatalf("Failed to register secondary provider: %v", err)
	}

	ctx := context.Background()
	_, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "total installs"})

	if err == nil {
		t.Fatal("Expected error when all providers fail and fallback is disabled")
	}

	if !strings.Contains(err.Error(), "all LLM providers failed") {
		t.Errorf("Expected error about all providers failing, got: %v", err)
	}

	if !apperrors.IsType(err, apperrors.ErrTypeLLM) {
		t.Errorf("Expected LLM error type, got: %v", err)
	}
}

func TestManager_GenerateSQLWithRetry(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider: "primary",
		RetryAttempts:   2,
		RetryDelay:      time.Millisecond * 10,
		EnableFallback:  false,
	}
	manager := NewManager(config)

	// Provider that fails first 2 calls, then succeeds
	primaryService := &MockService{failAfterCalls: 2}
	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx := context.Background()
	resp, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "total installs"})

	if err != nil {
		t.Fatalf("GenerateSQL() should succeed after retries, got error: %v", err)
	}

	if resp.SQL != "SELECT SUM(installs) AS total_installs FROM app_metrics" {
		t.Errorf("Expected mock SQL, got: %s", resp.SQL)
	}

	// Should have made 3 calls (initial + 2 retries)
	if primaryService.callCount != 3 {
		t.Errorf("Expected 3 calls (with retries), got: %d", primaryService.callCount)
	}
}

func TestManager_SummarizeResultRuleFallback(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider: "primary",
		RetryAttempts:   0,
		EnableFallback:  true,
	}
	manager := NewManager(config)

	primaryService := &MockService{shouldFail: true}
	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx := context.Background()
	summary, err := manager.SummarizeResult(ctx, SummarizeRequest{
		Question: "installs by platform?",
		Columns:  []string{"platform", "total_installs"},
		Rows:     [][]interface{}{{"iOS", 1200}, {"Android", 3400}},
		RowCount: 2,
	})

	if err != nil {
		t.Fatalf("SummarizeResult() should succeed with rule-based fallback, got error: %v", err)
	}

	if !strings.Contains(summary.Answer, "2 rows") {
		t.Errorf("Expected fallback narration, got: %s", summary.Answer)
	}
}

func TestManager_ClassifyIntentRuleFallback(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider: "primary",
		RetryAttempts:   0,
		EnableFallback:  true,
	}
	manager := NewManager(config)

	primaryService := &MockService{shouldFail: true}
	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx := context.Background()
	resp, err := manager.ClassifyIntent(ctx, "hello there")

	if err != nil {
		t.Fatalf("ClassifyIntent() should succeed with rule-based fallback, got error: %v", err)
	}

	if resp.Intent != "greeting" {
		t.Errorf("Expected greeting intent from fallback, got: %s", resp.Intent)
	}
}

func TestManager_TimeoutHandling(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider: "primary",
		Timeout:         time.Millisecond * 50,
		EnableFallback:  false,
	}
	manager := NewManager(config)

	// Provider that takes too long
	primaryService := &MockService{
		generateFunc: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			select {
			case <-time.After(time.Millisecond * 100):
				return &GenerateResponse{SQL: "SELECT 1"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx := context.Background()
	_, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "total installs"})

	if err == nil {
		t.Fatal("Expected timeout error")
	}

	if !strings.Contains(err.Error(), "context deadline exceeded") && !strings.Contains(err.Error(), "all LLM providers failed") {
		t.Errorf("Expected timeout-related error, got: %v", err)
	}
}

func TestManager_ContextCancellation(t *testing.T) {
	config := ManagerConfig{
		DefaultProvider: "primary",
		EnableFallback:  false,
	}
	manager := NewManager(config)

	primaryService := &MockService{
		generateFunc: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Millisecond * 100):
				return &GenerateResponse{SQL: "SELECT 1"}, nil
			}
		},
	}

	if err := manager.RegisterProvider("primary", primaryService); err != nil {
		t.Fatalf("Failed to register primary provider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.GenerateSQL(ctx, GenerateRequest{Question: "total installs"})

	if err == nil {
		t.Fatal("Expected error due to context cancellation")
	}

	if !strings.Contains(err.Error(), "context canceled") && !strings.Contains(err.Error(), "all LLM providers failed") {
		t.Errorf("Expected context cancellation error, got: %v", err)
	}
}

func TestManager_GetAvailableProviders(t *testing.T) {
	manager := NewManager(DefaultManagerConfig())

	providers := manager.GetAvailableProviders()
	if len(providers) != 0 {
		t.Errorf("Expected 0 providers initially, got %d", len(providers))
	}

	if err := manager.RegisterProvider("provider1", &MockService{}); err != nil {
		t.Fatalf("Failed to register provider1: %v", err)
	}

	if err := manager.RegisterProvider("provider2", &MockService{}); err != nil {
		t.Fatalf("Failed to register provider2: %v", err)
	}

	providers = manager.GetAvailableProviders()
	if len(providers) != 2 {
		t.Errorf("Expected 2 providers, got %d", len(providers))
	}

	providerMap := make(map[string]bool)
	for _, p := range providers {
		providerMap[p] = true
	}

	if !providerMap["provider1"] || !providerMap["provider2"] {
		t.Errorf("Expected both provider1 and provider2 in list, got: %v", providers)
	}
}

func TestManager_IsProviderRegistered(t *testing.T) {
	manager := NewManager(DefaultManagerConfig())

	if manager.IsProviderRegistered("test") {
		t.Error("Expected provider 'test' to not be registered")
	}

	if err := manager.RegisterProvider("test", &MockService{}); err != nil {
		t.Fatalf("Failed to register provider: %v", err)
	}

	if !manager.IsProviderRegistered("test") {
		t.Error("Expected provider 'test' to be registered")
	}

	if manager.IsProviderRegistered("other") {
		t.Error("Expected provider 'other' to not be registered")
	}
}

func TestDefaultManagerConfig(t *testing.T) {
	config := DefaultManagerConfig()

	if config.DefaultProvider != ProviderOpenAI {
		t.Errorf("Expected default provider to be OpenAI, got: %s", config.DefaultProvider)
	}

	if len(config.FallbackProviders) == 0 {
		t.Error("Expected fallback providers to be configured")
	}

	if config.RetryAttempts <= 0 {
		t.Errorf("Expected positive retry attempts, got: %d", config.RetryAttempts)
	}

	if config.RetryDelay <= 0 {
		t.Errorf("Expected positive retry delay, got: %v", config.RetryDelay)
	}

	if config.Timeout <= 0 {
		t.Errorf("Expected positive timeout, got: %v", config.Timeout)
	}

	if !config.EnableFallback {
		t.Error("Expected fallback to be enabled by default")
	}
}
