package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/prompts"
)

// AgentReasoner runs a single-turn agent through the openai-agents-go SDK,
// which covers OpenAI and any OpenAI-compatible endpoint.
type AgentReasoner struct {
	engine    string
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

func NewAgentReasoner(engine string, provider agents.ModelProvider, model string, maxTokens int) *AgentReasoner {
	return &AgentReasoner{engine: engine, provider: provider, model: model, maxTokens: maxTokens}
}

// NewOpenAIProvider builds an SDK provider for an API key and optional base URL.
func NewOpenAIProvider(apiKey, baseURL string) agents.ModelProvider {
	params := agents.OpenAIProviderParams{APIKey: param.NewOpt(apiKey)}
	if baseURL != "" {
		params.BaseURL = param.NewOpt(baseURL)
	}
	return agents.NewOpenAIProvider(params)
}

func (a *AgentReasoner) Name() string { return a.engine }

func (a *AgentReasoner) Recommend(ctx context.Context, c finance.CompanyData, hint finance.ModelType) (*finance.Recommendation, error) {
	text, err := a.run(ctx, prompts.AnalystSystem, prompts.Recommendation(c, finance.Metrics(c), hint))
	if err != nil {
		return nil, err
	}
	return parseRecommendation(text, a.engine, c)
}

func (a *AgentReasoner) Ask(ctx context.Context, question string, c *finance.CompanyData) (string, error) {
	text, err := a.run(ctx, prompts.ChatSystem, prompts.Question(question, c))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (a *AgentReasoner) run(ctx context.Context, system, userMessage string) (string, error) {
	agent := agents.New("analyst").
		WithInstructions(system).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	defer func() { metrics.ReasoningDuration.Observe(time.Since(start).Seconds()) }()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return "", fmt.Errorf("agent stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		collectDelta(ev, &textBuf)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("agent stream: %w", streamErr)
	}
	return textBuf.String(), nil
}

func collectDelta(ev agents.StreamEvent, textBuf *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	textBuf.WriteString(raw.Data.Delta)
}
