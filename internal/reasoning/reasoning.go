// Package reasoning holds the collaborators that classify a company into a
// model type and answer analyst questions.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

// ErrInvalidLabel reports a collaborator reply that names no known model type.
var ErrInvalidLabel = errors.New("invalid model label")

// Reasoner recommends a model for a company and answers free-form questions.
type Reasoner interface {
	Name() string
	Recommend(ctx context.Context, c finance.CompanyData, hint finance.ModelType) (*finance.Recommendation, error)
	Ask(ctx context.Context, question string, c *finance.CompanyData) (string, error)
}

// Pinger is implemented by reasoners that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type recommendationReply struct {
	ModelType  string `json:"model_type"`
	Reasoning  string `json:"reasoning"`
	Confidence string `json:"confidence"`
}

// parseRecommendation decodes a model reply, tolerating code fences and prose
// around the JSON object.
func parseRecommendation(text string, source string, c finance.CompanyData) (*finance.Recommendation, error) {
	body := extractObject(text)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidLabel)
	}
	var reply recommendationReply
	if err := sonic.UnmarshalString(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLabel, err)
	}
	mt, err := finance.ParseModelType(reply.ModelType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, reply.ModelType)
	}
	confidence := strings.ToLower(strings.TrimSpace(reply.Confidence))
	switch confidence {
	case "high", "medium", "low":
	default:
		confidence = "medium"
	}
	narrative := strings.TrimSpace(reply.Reasoning)
	if narrative == "" {
		narrative = Narrate(mt, finance.Metrics(c), c)
	}
	return &finance.Recommendation{
		Type:       mt,
		Narrative:  narrative,
		Metrics:    finance.Metrics(c),
		Confidence: confidence,
		Source:     source,
	}, nil
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
