package orchestrator

import "context"

// ComponentStatus is the readiness of one dependency.
type ComponentStatus string

const (
	StatusOK       ComponentStatus = "ok"
	StatusError    ComponentStatus = "error"
	StatusDisabled ComponentStatus = "disabled"
)

// ComponentCheck is one entry of the readiness report.
type ComponentCheck struct {
	Status   ComponentStatus `json:"status"`
	Required bool            `json:"required"`
	Message  string          `json:"message,omitempty"`
}

// Readiness is the /health payload. Status is "ok" unless a required
// component failed, in which case it is "unavailable".
type Readiness struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components"`
}

func (r Readiness) OK() bool { return r.Status == "ok" }

// Checker probes a dependency. Reasoning engines, caches and the ledger all
// satisfy it through their Ping methods.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }
