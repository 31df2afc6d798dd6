package ledger

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxErrLen = 500

type traceMsg struct {
	kind string // "session_create", "session_update", "session_end", "run_create", "run_update", "span"

	sessionID  string
	query      string
	phase      string
	at         time.Time
	runID      string
	group      string
	durationMs float64
	status     string
	errorKind  string
	span       Span
}

// Tracer writes ledger records asynchronously via a buffered channel so the
// pipeline never waits on the database. All methods are nil-safe.
type Tracer struct {
	store *Store
	ch    chan traceMsg
	done  chan struct{}
}

// NewTracer starts the writer goroutine. A nil store yields a nil (no-op) tracer.
func NewTracer(store *Store) *Tracer {
	if store == nil {
		return nil
	}
	t := &Tracer{
		store: store,
		ch:    make(chan traceMsg, 64),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"session_create": func() error { return t.store.CreateSession(m.sessionID, m.at) },
		"session_update": func() error { return t.store.UpdateSession(m.sessionID, m.query, m.phase) },
		"session_end":    func() error { return t.store.EndSession(m.sessionID, m.at) },
		"run_create":     func() error { return t.store.CreateRun(m.runID, m.sessionID, m.group, m.at) },
		"run_update":     func() error { return t.store.UpdateRun(m.runID, m.durationMs, m.status, m.errorKind) },
		"span":           func() error { return t.store.CreateSpan(m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("ledger write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) SessionCreated(sessionID string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{kind: "session_create", sessionID: sessionID, at: time.Now()}
}

// SessionPhase records the phase a session reached, and its query when known.
func (t *Tracer) SessionPhase(sessionID, query, phase string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{kind: "session_update", sessionID: sessionID, query: query, phase: phase}
}

func (t *Tracer) SessionEnded(sessionID string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{kind: "session_end", sessionID: sessionID, at: time.Now()}
}

// StartRun begins a new run for a pipeline group and returns its ID.
func (t *Tracer) StartRun(sessionID, group string) string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.ch <- traceMsg{kind: "run_create", runID: id, sessionID: sessionID, group: group, at: time.Now()}
	return id
}

// EndRun finalizes a run.
func (t *Tracer) EndRun(runID string, durationMs float64, status, errorKind string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{kind: "run_update", runID: runID, durationMs: durationMs, status: status, errorKind: errorKind}
}

// RecordSpan records one completed stage attempt.
func (t *Tracer) RecordSpan(runID, name string, attempt int, startedAt time.Time, durationMs float64, status, errorKind, errMsg string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{
		kind: "span",
		span: Span{
			ID:         uuid.NewString(),
			RunID:      runID,
			Name:       name,
			Attempt:    attempt,
			StartedAt:  startedAt,
			DurationMs: durationMs,
			Status:     status,
			ErrorKind:  errorKind,
			Error:      truncate(errMsg, maxErrLen),
		},
	}
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
