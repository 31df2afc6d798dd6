package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
)

var (
	ErrNotFound    = errors.New("company not found")
	ErrUnavailable = errors.New("financial data unavailable")
)

// Provider returns normalized company data for a resolved identity.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, id Identity) (*finance.CompanyData, error)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying against the same provider.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Chain tries providers in order. Transient failures are retried with
// exponential backoff before falling through to the next provider.
type Chain struct {
	providers []Provider
	attempts  int
	interval  time.Duration
}

func NewChain(attempts int, interval time.Duration, providers ...Provider) *Chain {
	if attempts < 1 {
		attempts = 1
	}
	return &Chain{providers: providers, attempts: attempts, interval: interval}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

// Fetch returns the first provider's successful result. When every provider
// fails the error wraps ErrUnavailable and each provider's failure.
func (c *Chain) Fetch(ctx context.Context, id Identity) (*finance.CompanyData, error) {
	var errs []error
	for _, p := range c.providers {
		data, err := c.fetchOne(ctx, p, id)
		if err == nil {
			metrics.DataSourceRequests.WithLabelValues(p.Name(), "ok").Inc()
			return data, nil
		}
		metrics.DataSourceRequests.WithLabelValues(p.Name(), outcome(err)).Inc()
		slog.Warn("provider failed", "provider", p.Name(), "ticker", id.Ticker, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrUnavailable, id.Ticker, errors.Join(errs...))
}

func (c *Chain) fetchOne(ctx context.Context, p Provider, id Identity) (*finance.CompanyData, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.interval
	eb.MaxInterval = 10 * c.interval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.attempts-1)), ctx)

	var data *finance.CompanyData
	err := backoff.Retry(func() error {
		d, err := p.Fetch(ctx, id)
		if err == nil {
			data = d
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return data, err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case IsTransient(err):
		return "transient"
	}
	return "error"
}

// normalize converts raw currency amounts into the reporting unit.
func normalize(currency string) (unit string, divisor float64) {
	if currency == "INR" {
		return "Cr", 1e7
	}
	return "M", 1e6
}

func scale(xs []float64, divisor float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x / divisor
	}
	return out
}
