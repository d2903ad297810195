package cmd

import (
	"time"

	"github.com/kyleking/askmetrics/internal/agent"
	"github.com/kyleking/askmetrics/internal/cache"
	"github.com/kyleking/askmetrics/internal/config"
	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/executor"
	"github.com/kyleking/askmetrics/internal/history"
	"github.com/kyleking/askmetrics/internal/intent"
	"github.com/kyleking/askmetrics/internal/llm"
	"github.com/kyleking/askmetrics/internal/query"
	"github.com/kyleking/askmetrics/internal/schema"
	"github.com/kyleking/askmetrics/internal/storage"
)

const (
	intentThreshold = 0.5
	sessionIdleTTL  = 30 * time.Minute
)

// runtime holds the wired question answering pipeline shared by the
// ask and serve commands
type runtime struct {
	store    *storage.Store
	catalog  *schema.Catalog
	answers  cache.Cache
	agent    *agent.Agent
	sessions *history.Store
}

// newRuntime builds the pipeline from configuration. Call close when
// done.
func newRuntime(cfg *config.Config) (*runtime, error) {
	store, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open metrics database")
	}

	answers, err := cache.New(cfg.Cache)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, errors.ErrTypeCache, "failed to open answer cache")
	}

	llmService, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to configure language model provider")
	}

	catalog := schema.NewCatalog(storage.NewIntrospector(store), cfg.Schema.RefreshTTLDuration())

	loop := query.NewLoop(
		query.NewGenerator(llmService),
		query.NewValidator(cfg.Database.ScanRowThreshold),
		cfg.Agent.MaxRepairAttempts,
	)

	runner := executor.New(store.DB(), cfg.Database.QueryTimeoutDuration(), cfg.Database.MaxResultRows)

	var intentLLM llm.Service
	if cfg.Agent.EnableLLMIntent {
		intentLLM = llmService
	}

	sessions := history.NewStore(cfg.Agent.HistoryLimit, sessionIdleTTL)

	ask := agent.New(
		catalog,
		answers,
		llmService,
		loop,
		runner,
		intent.NewClassifier(intentThreshold, intentLLM),
		sessions,
		agent.Config{
			ClarifyThreshold: cfg.Agent.ClarifyThreshold,
			EnableSummary:    cfg.Agent.EnableSummary,
			EnableHistory:    cfg.Agent.EnableHistory,
			Scope:            cfg.Agent.Scope,
			Dialect:          store.Driver(),
			CacheTTL:         time.Duration(cfg.Cache.TTLHours) * time.Hour,
		},
	)

	return &runtime{
		store:    store,
		catalog:  catalog,
		answers:  answers,
		agent:    ask,
		sessions: sessions,
	}, nil
}

func (r *runtime) close() {
	_ = r.store.Close()
}
