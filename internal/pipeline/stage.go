// Package pipeline sequences the stages of a session's research and build
// groups, enforcing single-flight execution and bounded retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

// Stage is one pipeline step. It reads a snapshot and returns the patch to
// merge into the session; it never writes to the store itself.
type Stage interface {
	Name() string
	Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error)
}

// Snapshot is a stage's read-only input: the committed session plus the
// group-local draft workbook that is not part of the session record.
type Snapshot struct {
	Session *session.Session
	Draft   *workbook.Workbook
}

// Patch is a stage's output. Nil fields leave the session untouched.
type Patch struct {
	Company        *finance.CompanyData
	Recommendation *finance.Recommendation
	Scenarios      *finance.ScenarioSet
	QA             *finance.QAReport
	Artifact       *session.Artifact

	// Draft travels to later stages of the same group only.
	Draft *workbook.Workbook
}

func (p Patch) apply(s *session.Session) {
	if p.Company != nil {
		s.Company = p.Company
	}
	if p.Recommendation != nil {
		s.Recommendation = p.Recommendation
	}
	if p.Scenarios != nil {
		s.Scenarios = p.Scenarios
	}
	if p.QA != nil {
		s.QA = p.QA
	}
	if p.Artifact != nil {
		s.Artifact = p.Artifact
	}
}

// Emitter publishes progress events on behalf of one stage.
type Emitter interface {
	Emit(status logbus.Status, message string)
}

type busEmitter struct {
	bus     *logbus.Bus
	session string
	agent   string
}

func (e busEmitter) Emit(status logbus.Status, message string) {
	e.bus.Publish(logbus.Event{SessionID: e.session, Agent: e.agent, Message: message, Status: status})
}

func emitf(log Emitter, status logbus.Status, format string, args ...any) {
	log.Emit(status, fmt.Sprintf(format, args...))
}

// StageError is a classified stage failure.
type StageError struct {
	Kind      finance.ErrorKind
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fatal marks err as terminal for its group.
func Fatal(kind finance.ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// Retry marks err as worth another attempt of the same stage.
func Retry(kind finance.ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Retryable: true, Err: err}
}

// classify turns any stage error into a StageError, defaulting to the group's kind.
func classify(stage string, fallback finance.ErrorKind, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		out := *se
		if out.Stage == "" {
			out.Stage = stage
		}
		return &out
	}
	return &StageError{Kind: fallback, Stage: stage, Retryable: errors.Is(err, context.DeadlineExceeded), Err: err}
}

// Step binds a stage to the phase the session shows while it runs.
type Step struct {
	Stage Stage
	Phase session.Phase
}

// Group is an ordered run of stages triggered by one API call.
type Group struct {
	Name     string
	Steps    []Step
	Done     session.Phase
	FailKind finance.ErrorKind
}

const (
	ResearchGroup = "research"
	BuildGroup    = "build"
)

// NewResearchGroup runs Research, Analysis and Planning, ending awaiting confirmation.
func NewResearchGroup(research, analysis, planning Stage) Group {
	return Group{
		Name: ResearchGroup,
		Steps: []Step{
			{research, session.Researching},
			{analysis, session.Researching},
			{planning, session.Researching},
		},
		Done:     session.AwaitingConfirmation,
		FailKind: finance.DataUnavailable,
	}
}

// NewBuildGroup runs Build, QA and Delivery, ending delivered.
func NewBuildGroup(build, audit, delivery Stage) Group {
	return Group{
		Name: BuildGroup,
		Steps: []Step{
			{build, session.Building},
			{audit, session.Auditing},
			{delivery, session.Auditing},
		},
		Done:     session.Delivered,
		FailKind: finance.BuildError,
	}
}
