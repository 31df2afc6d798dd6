package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/reasoning"
)

// Analysis asks the reasoning collaborator for a model recommendation and
// falls back to the deterministic rules on timeout, error or an invalid label.
type Analysis struct {
	reasoner reasoning.Reasoner
	timeout  time.Duration
}

func NewAnalysis(r reasoning.Reasoner, timeout time.Duration) *Analysis {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Analysis{reasoner: r, timeout: timeout}
}

func (a *Analysis) Name() string { return "analysis" }

type recommendResult struct {
	rec *finance.Recommendation
	err error
}

func (a *Analysis) Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error) {
	if in.Session.Company == nil {
		return Patch{}, Fatal(finance.Internal, errors.New("analysis needs company data"))
	}
	c := *in.Session.Company.Clone()
	emitf(log, logbus.Thinking, "Asking %s which model fits %s", a.reasoner.Name(), c.Name)

	rec, err := a.recommend(ctx, c)
	if err != nil {
		kind, reason := finance.ReasoningError, "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind, reason = finance.ReasoningTimeout, "timeout"
		case errors.Is(err, reasoning.ErrInvalidLabel):
			reason = "invalid_label"
		}
		metrics.ReasoningFallbacks.WithLabelValues(reason).Inc()
		metrics.Errors.WithLabelValues(a.Name(), string(kind)).Inc()
		emitf(log, logbus.Warning, "%s from %s (%v); applying deterministic rules", kind, a.reasoner.Name(), err)

		rec, err = reasoning.Rules{}.Recommend(ctx, c, c.RequestedModel)
		if err != nil {
			return Patch{}, Fatal(finance.Internal, err)
		}
	}

	emitf(log, logbus.Success, "Recommended %s model (%s confidence, via %s)", rec.Type.Label(), rec.Confidence, rec.Source)
	return Patch{Recommendation: rec}, nil
}

// recommend bounds the collaborator call by the analysis timeout even when
// the collaborator ignores its context.
func (a *Analysis) recommend(ctx context.Context, c finance.CompanyData) (*finance.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ch := make(chan recommendResult, 1)
	go func() {
		rec, err := a.reasoner.Recommend(ctx, c, c.RequestedModel)
		ch <- recommendResult{rec, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.rec == nil {
			return nil, fmt.Errorf("%w: empty reply", reasoning.ErrInvalidLabel)
		}
		if !res.rec.Type.Valid() {
			return nil, fmt.Errorf("%w: %q", reasoning.ErrInvalidLabel, res.rec.Type)
		}
		return res.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
