package session

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrBusy         = errors.New("session busy")
	ErrInvalidPhase = errors.New("invalid phase")
	ErrNotReady     = errors.New("artifact not ready")
)

// Phase is a session's position in the pipeline state machine.
type Phase string

const (
	Created              Phase = "created"
	Researching          Phase = "researching"
	AwaitingConfirmation Phase = "awaiting_confirmation"
	Building             Phase = "building"
	Auditing             Phase = "auditing"
	Delivered            Phase = "delivered"
	Failed               Phase = "failed"
)

// transitions lists the legal successors of each non-terminal phase.
// awaiting_confirmation -> created is the declined-confirmation reset.
var transitions = map[Phase][]Phase{
	Created:              {Researching, Failed},
	Researching:          {AwaitingConfirmation, Failed},
	AwaitingConfirmation: {Building, Created, Failed},
	Building:             {Auditing, Failed},
	Auditing:             {Delivered, Failed},
}

func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

func (p Phase) Terminal() bool { return p == Delivered || p == Failed }

// Executing reports whether the phase belongs to a build group in progress,
// which idle expiry must never interrupt.
func (p Phase) Executing() bool { return p == Building || p == Auditing }

// Failure is the recorded classification of a terminal pipeline error.
type Failure struct {
	Kind    finance.ErrorKind `json:"kind"`
	Stage   string            `json:"stage,omitempty"`
	Message string            `json:"message"`
}

// Confirmation is the caller's recorded build intent.
type Confirmation struct {
	ModelType finance.ModelType  `json:"modelType"`
	Confirmed bool               `json:"confirmed"`
	Overrides map[string]float64 `json:"overrides,omitempty"`
	At        time.Time          `json:"at"`
}

// Artifact is the stable download handle recorded by Delivery.
type Artifact struct {
	Handle   string `json:"handle"`
	FileName string `json:"fileName"`
	Size     int    `json:"size"`
}

// Session is one end-to-end request and its accumulated pipeline state.
type Session struct {
	ID             string                  `json:"id"`
	Phase          Phase                   `json:"phase"`
	Query          string                  `json:"query,omitempty"`
	Company        *finance.CompanyData    `json:"companyData,omitempty"`
	Recommendation *finance.Recommendation `json:"modelRecommendation,omitempty"`
	Scenarios      *finance.ScenarioSet    `json:"scenarioSet,omitempty"`
	Artifact       *Artifact               `json:"artifact,omitempty"`
	QA             *finance.QAReport       `json:"qaReport,omitempty"`
	Error          *Failure                `json:"error,omitempty"`
	Confirmation   *Confirmation           `json:"confirmation,omitempty"`

	// Running names the pipeline group currently executing, empty when idle.
	Running string `json:"running,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	LastActive time.Time `json:"-"`
}

// Transition moves the session to phase to, rejecting moves the state machine forbids.
func (s *Session) Transition(to Phase) error {
	if !s.Phase.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// Fail moves the session to the absorbing failed phase.
func (s *Session) Fail(f Failure) {
	s.Phase = Failed
	s.Error = &f
}

// ResetResearch clears research outputs after a declined confirmation.
func (s *Session) ResetResearch() {
	s.Company = nil
	s.Recommendation = nil
	s.Scenarios = nil
	s.Error = nil
}

func (s *Session) Clone() *Session {
	out := *s
	out.Company = s.Company.Clone()
	out.Recommendation = s.Recommendation.Clone()
	out.Scenarios = s.Scenarios.Clone()
	out.QA = s.QA.Clone()
	if s.Artifact != nil {
		a := *s.Artifact
		out.Artifact = &a
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.Confirmation != nil {
		c := *s.Confirmation
		c.Overrides = maps.Clone(s.Confirmation.Overrides)
		out.Confirmation = &c
	}
	return &out
}
