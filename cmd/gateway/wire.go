package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/datasource"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/pipeline"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/reasoning"
)

// reasoners registers every engine the configuration allows. The rules engine
// is always present and is the router's fallback.
func reasoners(cfg config, httpClient *http.Client) (*pipeline.Router[reasoning.Reasoner], map[string]orchestrator.ComponentMeta) {
	backends := map[string]reasoning.Reasoner{reasoning.RulesEngine: reasoning.Rules{}}
	probes := map[string]orchestrator.ComponentMeta{}

	if cfg.ollamaURL != "" {
		o, err := reasoning.NewOllamaReasoner(cfg.ollamaURL, cfg.ollamaModel, cfg.llmMaxTokens, httpClient)
		if err != nil {
			slog.Warn("ollama disabled", "error", err)
		} else {
			backends[o.Name()] = o
			probes["reasoning.ollama"] = orchestrator.ComponentMeta{Checker: o, Required: cfg.engine == "ollama"}
		}
	}
	if cfg.openaiAPIKey != "" {
		provider := reasoning.NewOpenAIProvider(cfg.openaiAPIKey, cfg.openaiBaseURL)
		backends["openai"] = reasoning.NewAgentReasoner("openai", provider, cfg.openaiModel, cfg.llmMaxTokens)
	}
	return pipeline.NewRouter(backends, reasoning.RulesEngine), probes
}

// dataSource builds the provider chain: Yahoo when configured, then the
// bundled fixtures, behind a Redis or in-memory cache.
func dataSource(ctx context.Context, cfg config, httpClient *http.Client) (datasource.Provider, datasource.Cache, error) {
	fixtures, err := datasource.LoadFixtures(cfg.fixturesPath)
	if err != nil {
		return nil, nil, err
	}
	var providers []datasource.Provider
	if cfg.yahooURL != "" {
		providers = append(providers, datasource.NewYahooProvider(cfg.yahooURL, httpClient))
	}
	providers = append(providers, fixtures)
	chain := datasource.NewChain(cfg.maxAttempts, 250*time.Millisecond, providers...)

	var cache datasource.Cache = datasource.NewMemoryCache()
	if cfg.redisURL != "" {
		rc, err := datasource.NewRedisCache(ctx, cfg.redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		cache = rc
		slog.Info("redis cache enabled", "ttl", cfg.cacheTTL)
	}
	return datasource.NewCached(chain, cache, cfg.cacheTTL), cache, nil
}

// openLedger opens the run ledger when a DSN is configured; nil otherwise.
func openLedger(cfg config) (*ledger.Store, error) {
	if cfg.ledgerDSN == "" {
		return nil, nil
	}
	store, err := ledger.Open(cfg.ledgerDriver, cfg.ledgerDSN)
	if err != nil {
		return nil, err
	}
	slog.Info("ledger enabled", "driver", cfg.ledgerDriver)
	return store, nil
}
