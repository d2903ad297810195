package llm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/metrics"
)

// Manager handles multiple LLM providers with fallback strategies
type Manager struct {
	providers map[string]Service
	fallback  Service
	config    ManagerConfig
}

// ManagerConfig configures the LLM manager behavior
type ManagerConfig struct {
	DefaultProvider   string        `json:"default_provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`
	EnableFallback    bool          `json:"enable_fallback"`
}

// NewManager creates a new LLM manager with the given configuration
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		providers: make(map[string]Service),
		fallback:  NewFallbackService(),
		config:    config,
	}
}

// RegisterProvider registers a new LLM provider
func (m *Manager) RegisterProvider(name string, service Service) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}

	m.providers[name] = service

	return nil
}

// Configure configures a specific provider
func (m *Manager) Configure(config Config) error {
	provider, exists := m.providers[config.Provider]
	if !exists {
		return fmt.Errorf("provider %s not registered", config.Provider)
	}

	return provider.Configure(config)
}

// GenerateSQL drafts a SQL candidate, trying providers in order with retries
func (m *Manager) GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	// Try default provider first
	if m.config.DefaultProvider != "" {
		if provider, exists := m.providers[m.config.DefaultProvider]; exists {
			response, err := m.tryProviderGenerate(ctx, provider, req)
			if err == nil {
				metrics.RecordLLMCall("generate_sql", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Default provider %s failed: %v", m.config.DefaultProvider, err)
		}
	}

	// Try fallback providers in order
	for _, providerName := range m.config.FallbackProviders {
		if provider, exists := m.providers[providerName]; exists {
			response, err := m.tryProviderGenerate(ctx, provider, req)
			if err == nil {
				log.Printf("Using fallback provider: %s", providerName)
				metrics.RecordLLMCall("generate_sql", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Fallback provider %s failed: %v", providerName, err)
		}
	}

	// Use rule-based fallback as last resort
	if m.config.EnableFallback {
		log.Printf("All LLM providers failed, using rule-based fallback")
		metrics.RecordLLMCall("generate_sql", "rule_fallback", time.Since(start))
		return m.fallback.GenerateSQL(ctx, req)
	}

	metrics.RecordLLMCall("generate_sql", "error", time.Since(start))

	return nil, errors.New(errors.ErrTypeLLM, "all LLM providers failed and fallback is disabled")
}

// SummarizeResult narrates a result set, trying providers in order with retries
func (m *Manager) SummarizeResult(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error) {
	start := time.Now()

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	if m.config.DefaultProvider != "" {
		if provider, exists := m.providers[m.config.DefaultProvider]; exists {
			response, err := m.tryProviderSummarize(ctx, provider, req)
			if err == nil {
				metrics.RecordLLMCall("summarize", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Default provider %s failed: %v", m.config.DefaultProvider, err)
		}
	}

	for _, providerName := range m.config.FallbackProviders {
		if provider, exists := m.providers[providerName]; exists {
			response, err := m.tryProviderSummarize(ctx, provider, req)
			if err == nil {
				log.Printf("Using fallback provider: %s", providerName)
				metrics.RecordLLMCall("summarize", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Fallback provider %s failed: %v", providerName, err)
		}
	}

	if m.config.EnableFallback {
		log.Printf("All LLM providers failed, using rule-based fallback")
		metrics.RecordLLMCall("summarize", "rule_fallback", time.Since(start))
		return m.fallback.SummarizeResult(ctx, req)
	}

	metrics.RecordLLMCall("summarize", "error", time.Since(start))

	return nil, errors.New(errors.ErrTypeLLM, "all LLM providers failed and fallback is disabled")
}

// ClassifyIntent classifies a message, trying providers in order with retries
func (m *Manager) ClassifyIntent(ctx context.Context, question string) (*IntentResponse, error) {
	start := time.Now()

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	if m.config.DefaultProvider != "" {
		if provider, exists := m.providers[m.config.DefaultProvider]; exists {
			response, err := m.tryProviderClassify(ctx, provider, question)
			if err == nil {
				metrics.RecordLLMCall("classify_intent", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Default provider %s failed: %v", m.config.DefaultProvider, err)
		}
	}

	for _, providerName := range m.config.FallbackProviders {
		if provider, exists := m.providers[providerName]; exists {
			response, err := m.tryProviderClassify(ctx, provider, question)
			if err == nil {
				log.Printf("Using fallback provider: %s", providerName)
				metrics.RecordLLMCall("classify_intent", "ok", time.Since(start))
				return response, nil
			}
			log.Printf("Fallback provider %s failed: %v", providerName, err)
		}
	}

	if m.config.EnableFallback {
		metrics.RecordLLMCall("classify_intent", "rule_fallback", time.Since(start))
		return m.fallback.ClassifyIntent(ctx, question)
	}

	metrics.RecordLLMCall("classify_intent", "error", time.Since(start))

	return nil, errors.New(errors.ErrTypeLLM, "all LLM providers failed and fallback is disabled")
}

// tryProviderGenerate attempts SQL generation with retry logic
func (m *Manager) tryProviderGenerate(ctx context.Context, provider Service, req GenerateRequest) (*GenerateResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		response, err := provider.GenerateSQL(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("provider failed after %d attempts: %w", m.config.RetryAttempts+1, lastErr)
}

// tryProviderSummarize attempts result narration with retry logic
func (m *Manager) tryProviderSummarize(ctx context.Context, provider Service, req SummarizeRequest) (*SummaryResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		response, err := provider.SummarizeResult(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("provider failed after %d attempts: %w", m.config.RetryAttempts+1, lastErr)
}

// tryProviderClassify attempts intent classification with retry logic
func (m *Manager) tryProviderClassify(ctx context.Context, provider Service, question string) (*IntentResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		response, err := provider.ClassifyIntent(ctx, question)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("provider failed after %d attempts: %w", m.config.RetryAttempts+1, lastErr)
}

// GetAvailableProviders returns the names of all registered providers
func (m *Manager) GetAvailableProviders() []string {
	providers := make([]string, 0, len(m.providers))
	for name := range m.providers {
		providers = append(providers, name)
	}

	return providers
}

// IsProviderRegistered checks if a provider is registered
func (m *Manager) IsProviderRegistered(name string) bool {
	_, exists := m.providers[name]
	return exists
}

// DefaultManagerConfig returns a reasonable default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultProvider:   ProviderOpenAI,
		FallbackProviders: []string{ProviderAnthropic, ProviderOllama},
		RetryAttempts:     2,
		RetryDelay:        2 * time.Second,
		Timeout:           2 * time.Minute,
		EnableFallback:    true,
	}
}
