package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/env"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
)

type config struct {
	port     string
	logLevel slog.Level
	apiKey   string

	maxPipelines  int
	maxStreams    int
	idleTTL       time.Duration
	sweepInterval time.Duration
	logBuffer     int
	subscriberQ   int
	statusLogTail int

	stageTimeout   time.Duration
	maxAttempts    int
	maxCorrections int

	engine           string
	reasoningTimeout time.Duration
	ollamaURL        string
	ollamaModel      string
	openaiAPIKey     string
	openaiBaseURL    string
	openaiModel      string
	llmMaxTokens     int

	yahooURL        string
	httpPoolSize    int
	peerConcurrency int
	catalogPath     string
	fixturesPath    string
	redisURL        string
	cacheTTL        time.Duration

	ledgerDriver string
	ledgerDSN    string
	outputDir    string
}

func loadConfig() config {
	return config{
		port:     env.Str("GATEWAY_PORT", "8000"),
		logLevel: parseLevel(env.Str("LOG_LEVEL", "info")),
		apiKey:   env.Str("API_KEY", ""),

		maxPipelines:  env.Int("MAX_CONCURRENT_PIPELINES", 8),
		maxStreams:    env.Int("MAX_STREAM_SUBSCRIBERS", 256),
		idleTTL:       env.Duration("SESSION_IDLE_TTL", 30*time.Minute),
		sweepInterval: env.Duration("SESSION_SWEEP_INTERVAL", time.Minute),
		logBuffer:     env.Int("LOG_BUFFER_SIZE", logbus.DefaultBufferSize),
		subscriberQ:   env.Int("SUBSCRIBER_QUEUE", logbus.DefaultQueueSize),
		statusLogTail: env.Int("STATUS_LOG_TAIL", 20),

		stageTimeout:   env.Duration("STAGE_TIMEOUT", 2*time.Minute),
		maxAttempts:    env.Int("STAGE_MAX_ATTEMPTS", 3),
		maxCorrections: env.Int("QA_MAX_CORRECTIONS", 3),

		engine:           strings.ToLower(env.Str("REASONING_ENGINE", "ollama")),
		reasoningTimeout: env.Duration("REASONING_TIMEOUT", 20*time.Second),
		ollamaURL:        env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:      env.Str("OLLAMA_MODEL", "llama3.1"),
		openaiAPIKey:     env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL:    env.Str("OPENAI_BASE_URL", ""),
		openaiModel:      env.Str("OPENAI_MODEL", "gpt-4o-mini"),
		llmMaxTokens:     env.Int("LLM_MAX_TOKENS", 600),

		yahooURL:        env.Str("YAHOO_URL", ""),
		httpPoolSize:    env.Int("HTTP_POOL_SIZE", 32),
		peerConcurrency: env.Int("PEER_CONCURRENCY", 4),
		catalogPath:     env.Str("CATALOG_PATH", ""),
		fixturesPath:    env.Str("FIXTURES_PATH", ""),
		redisURL:        env.Str("REDIS_URL", ""),
		cacheTTL:        env.Duration("CACHE_TTL", 40*time.Minute),

		ledgerDriver: env.Str("LEDGER_DRIVER", "sqlite3"),
		ledgerDSN:    env.Str("LEDGER_DSN", ""),
		outputDir:    env.Str("OUTPUT_DIR", "./output"),
	}
}

func (c config) validate() error {
	var errs []error
	positive := map[string]int{
		"MAX_CONCURRENT_PIPELINES": c.maxPipelines,
		"MAX_STREAM_SUBSCRIBERS":   c.maxStreams,
		"LOG_BUFFER_SIZE":          c.logBuffer,
		"SUBSCRIBER_QUEUE":         c.subscriberQ,
		"STAGE_MAX_ATTEMPTS":       c.maxAttempts,
		"HTTP_POOL_SIZE":           c.httpPoolSize,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	if c.maxCorrections < 0 {
		errs = append(errs, fmt.Errorf("QA_MAX_CORRECTIONS must not be negative, got %d", c.maxCorrections))
	}
	switch c.engine {
	case "ollama", "rules":
	case "openai":
		if c.openaiAPIKey == "" {
			errs = append(errs, errors.New("REASONING_ENGINE=openai needs OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("REASONING_ENGINE must be ollama, openai or rules, got %q", c.engine))
	}
	if c.ledgerDSN != "" && c.ledgerDriver != "pgx" && c.ledgerDriver != "sqlite3" {
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER must be pgx or sqlite3, got %q", c.ledgerDriver))
	}
	if c.sweepInterval <= 0 || c.idleTTL <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL and SESSION_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
