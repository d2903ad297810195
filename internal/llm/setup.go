package llm

import (
	"fmt"
	"os"

	"github.com/kyleking/askmetrics/internal/config"
)

// NewFromConfig builds a manager wired from the application configuration.
// The configured provider becomes the default, secondary providers with
// credentials available are registered so fallback routing can reach them.
func NewFromConfig(cfg config.LLMConfig) (*Manager, error) {
	managerConfig := ManagerConfig{
		DefaultProvider:   cfg.Provider,
		FallbackProviders: fallbackOrder(cfg.Provider),
		RetryAttempts:     cfg.RetryAttempts,
		RetryDelay:        cfg.RetryDelayDuration(),
		Timeout:           cfg.TimeoutDuration(),
		EnableFallback:    cfg.EnableFallback,
	}

	manager := NewManager(managerConfig)

	clientConfig := Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      resolveAPIKey(cfg),
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	client := NewClient(clientConfig)
	if err := client.Configure(clientConfig); err != nil {
		return nil, fmt.Errorf("failed to configure %s provider: %w", cfg.Provider, err)
	}

	if err := manager.RegisterProvider(cfg.Provider, client); err != nil {
		return nil, fmt.Errorf("failed to register %s provider: %w", cfg.Provider, err)
	}

	registerSecondaryProviders(manager, cfg)

	return manager, nil
}

// resolveAPIKey returns the configured key, falling back to the
// conventional environment variable for the provider
func resolveAPIKey(cfg config.LLMConfig) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}

	return ""
}

// registerSecondaryProviders registers every non-default provider whose
// configuration validates, so the fallback chain has somewhere to go.
// Providers without credentials are silently skipped.
func registerSecondaryProviders(manager *Manager, cfg config.LLMConfig) {
	for _, provider := range fallbackOrder(cfg.Provider) {
		clientConfig := Config{
			Provider: provider,
			Model:    defaultModel(provider),
		}

		switch provider {
		case ProviderOpenAI:
			clientConfig.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderAnthropic:
			clientConfig.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOllama, ProviderLocal:
			clientConfig.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}

		client := NewClient(clientConfig)
		if err := client.Configure(clientConfig); err != nil {
			continue
		}

		_ = manager.RegisterProvider(provider, client)
	}
}

// fallbackOrder returns the standard provider order minus the default
func fallbackOrder(defaultProvider string) []string {
	if defaultProvider == ProviderLocal {
		defaultProvider = ProviderOllama
	}

	var fallbacks []string
	for _, p := range []string{ProviderOpenAI, ProviderAnthropic, ProviderOllama} {
		if p != defaultProvider {
			fallbacks = append(fallbacks, p)
		}
	}

	return fallbacks
}

// defaultModel returns the model used when a secondary provider has none configured
func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return ModelGPT4oMini
	case ProviderAnthropic:
		return ModelClaude
	default:
		return ModelLlama
	}
}
