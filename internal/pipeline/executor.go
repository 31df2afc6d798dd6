package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
)

var ErrClosed = errors.New("executor closed")

// Config holds executor limits.
type Config struct {
	Workers       int
	StageTimeout  time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
}

// Executor runs pipeline groups, one goroutine per admitted group, bounded by
// a worker semaphore shared across sessions.
type Executor struct {
	store  *session.Store
	bus    *logbus.Bus
	tracer *ledger.Tracer
	sem    *semaphore.Weighted
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewExecutor(store *session.Store, bus *logbus.Bus, tracer *ledger.Tracer, cfg Config) *Executor {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:  store,
		bus:    bus,
		tracer: tracer,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start claims the session for group g and runs it in the background. admit
// validates and records the trigger under the session lock; the claim and
// admit commit together or not at all. A session already running a group
// yields session.ErrBusy before admit is consulted.
func (e *Executor) Start(id string, g Group, admit func(*session.Session) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err := e.store.Update(id, func(s *session.Session) error {
		if s.Running != "" {
			return session.ErrBusy
		}
		if admit != nil {
			if err := admit(s); err != nil {
				return err
			}
		}
		s.Running = g.Name
		return nil
	})
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go e.run(id, g)
	return nil
}

// Close stops admitting groups and waits for running ones. When ctx expires
// first, in-flight stages are cancelled.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) emitter(id, agent string) Emitter {
	return busEmitter{bus: e.bus, session: id, agent: agent}
}

func (e *Executor) run(id string, g Group) {
	defer e.wg.Done()

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		e.finish(id, g, "", time.Now(), classify("", finance.Internal, fmt.Errorf("%w: %v", ErrClosed, err)))
		return
	}
	defer e.sem.Release(1)

	metrics.PipelinesActive.Inc()
	defer metrics.PipelinesActive.Dec()

	start := time.Now()
	runID := e.tracer.StartRun(id, g.Name)
	slog.Info("pipeline start", "session", id, "group", g.Name)

	snap := &Snapshot{}
	for i, step := range g.Steps {
		name := step.Stage.Name()
		cur, err := e.store.Update(id, func(s *session.Session) error {
			if s.Phase == step.Phase {
				return nil
			}
			return s.Transition(step.Phase)
		})
		if err != nil {
			e.finish(id, g, runID, start, classify(name, finance.Internal, err))
			return
		}
		e.tracer.SessionPhase(id, cur.Query, string(cur.Phase))
		snap.Session = cur

		patch, serr := e.attempt(runID, step.Stage, snap, g.FailKind)
		if serr != nil {
			e.finish(id, g, runID, start, serr)
			return
		}

		last := i == len(g.Steps)-1
		committed, err := e.store.Update(id, func(s *session.Session) error {
			patch.apply(s)
			if !last {
				return nil
			}
			s.Running = ""
			return s.Transition(g.Done)
		})
		if err != nil {
			e.finish(id, g, runID, start, classify(name, finance.Internal, err))
			return
		}
		if patch.Draft != nil {
			snap.Draft = patch.Draft
		}
		snap.Session = committed
	}

	e.tracer.SessionPhase(id, "", string(g.Done))
	e.finish(id, g, runID, start, nil)
}

// finish records the group outcome and closes the caller's stream for it.
// On failure the session moves to failed and the Running claim is released in
// the same update.
func (e *Executor) finish(id string, g Group, runID string, start time.Time, serr *StageError) {
	elapsed := time.Since(start)
	metrics.GroupDuration.WithLabelValues(g.Name).Observe(elapsed.Seconds())

	outcome, kind := "ok", ""
	if serr != nil {
		outcome, kind = "failed", string(serr.Kind)
		metrics.Errors.WithLabelValues(serr.Stage, kind).Inc()
		slog.Error("pipeline failed", "session", id, "group", g.Name, "stage", serr.Stage, "kind", kind, "error", serr.Err)
		_, err := e.store.Update(id, func(s *session.Session) error {
			s.Running = ""
			s.Fail(session.Failure{Kind: serr.Kind, Stage: serr.Stage, Message: serr.Err.Error()})
			return nil
		})
		if err != nil {
			slog.Warn("record failure", "session", id, "error", err)
		}
		e.tracer.SessionPhase(id, "", string(session.Failed))
		agent := serr.Stage
		if agent == "" {
			agent = g.Name
		}
		emitf(e.emitter(id, agent), logbus.Error, "%s: %v", serr.Kind, serr.Err)
	} else {
		slog.Info("pipeline done", "session", id, "group", g.Name, "duration_ms", elapsed.Milliseconds())
	}

	metrics.PipelineRuns.WithLabelValues(g.Name, outcome).Inc()
	e.tracer.EndRun(runID, float64(elapsed.Milliseconds()), outcome, kind)
	e.emitter(id, g.Name).Emit(logbus.Done, g.Name+" "+outcome)
}

// attempt runs one stage with per-attempt timeout, panic recovery and
// bounded exponential retry of retryable failures.
func (e *Executor) attempt(runID string, st Stage, snap *Snapshot, failKind finance.ErrorKind) (Patch, *StageError) {
	name := st.Name()
	log := e.emitter(snap.Session.ID, name)

	var patch Patch
	n := 0
	op := func() error {
		n++
		if n > 1 {
			metrics.StageRetries.WithLabelValues(name).Inc()
			emitf(log, logbus.Info, "retrying (attempt %d of %d)", n, e.cfg.MaxAttempts)
		}
		started := time.Now()
		p, err := e.invoke(st, snap, log)
		elapsed := time.Since(started)
		metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		ms := float64(elapsed.Microseconds()) / 1000
		if err == nil {
			e.tracer.RecordSpan(runID, name, n, started, ms, "ok", "", "")
			patch = p
			return nil
		}
		se := classify(name, failKind, err)
		e.tracer.RecordSpan(runID, name, n, started, ms, "error", string(se.Kind), se.Err.Error())
		slog.Warn("stage failed", "session", snap.Session.ID, "stage", name, "attempt", n, "kind", se.Kind, "error", se.Err)
		if !se.Retryable {
			return backoff.Permanent(se)
		}
		return se
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.RetryInterval
	eb.MaxInterval = 10 * e.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.cfg.MaxAttempts-1)), e.ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return Patch{}, classify(name, failKind, err)
	}
	return patch, nil
}

func (e *Executor) invoke(st Stage, snap *Snapshot, log Emitter) (p Patch, err error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.StageTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stage panic", "stage", st.Name(), "panic", r)
			err = &StageError{Kind: finance.Internal, Stage: st.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return st.Run(ctx, snap, log)
}
