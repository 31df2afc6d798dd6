package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/prompts"
)

// OllamaReasoner asks a local Ollama model for JSON-formatted recommendations.
type OllamaReasoner struct {
	client    *api.Client
	model     string
	maxTokens int
}

func NewOllamaReasoner(baseURL, model string, maxTokens int, httpClient *http.Client) (*OllamaReasoner, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &OllamaReasoner{
		client:    api.NewClient(u, httpClient),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (o *OllamaReasoner) Name() string { return "ollama" }

func (o *OllamaReasoner) Recommend(ctx context.Context, c finance.CompanyData, hint finance.ModelType) (*finance.Recommendation, error) {
	prompt := prompts.Recommendation(c, finance.Metrics(c), hint)
	text, err := o.generate(ctx, prompts.AnalystSystem, prompt, json.RawMessage(`"json"`))
	if err != nil {
		return nil, err
	}
	return parseRecommendation(text, o.Name(), c)
}

func (o *OllamaReasoner) Ask(ctx context.Context, question string, c *finance.CompanyData) (string, error) {
	text, err := o.generate(ctx, prompts.ChatSystem, prompts.Question(question, c), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Ping checks the server is reachable.
func (o *OllamaReasoner) Ping(ctx context.Context) error {
	return o.client.Heartbeat(ctx)
}

func (o *OllamaReasoner) generate(ctx context.Context, system, prompt string, format json.RawMessage) (string, error) {
	start := time.Now()
	defer func() { metrics.ReasoningDuration.Observe(time.Since(start).Seconds()) }()

	stream := false
	req := &api.GenerateRequest{
		Model:  o.model,
		System: system,
		Prompt: prompt,
		Format: format,
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": o.maxTokens,
		},
	}
	var out strings.Builder
	err := o.client.Generate(ctx, req, func(r api.GenerateResponse) error {
		out.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out.String(), nil
}
