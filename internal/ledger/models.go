package ledger

import "time"

// Session is the ledger's view of one orchestrator session.
type Session struct {
	ID        string     `json:"id"`
	Query     string     `json:"query"`
	Phase     string     `json:"phase"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RunCount  int        `json:"run_count,omitempty"`
}

// Run is one pipeline group execution (research or build).
type Run struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Group      string    `json:"group"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	SpanCount  int       `json:"span_count,omitempty"`
}

// Span is one stage attempt inside a run.
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}
