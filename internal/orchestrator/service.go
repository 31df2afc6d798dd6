// Package orchestrator is the session-facing API: it admits research and
// build requests onto the pipeline executor and serves status, logs and
// downloads from the shared stores.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/pipeline"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/reasoning"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

var (
	ErrEmptyQuery      = errors.New("query is required")
	ErrEmptyQuestion   = errors.New("question is required")
	ErrUnknownOverride = errors.New("unknown assumption override")
)

// Artifacts reads and removes delivered workbooks.
type Artifacts interface {
	Get(handle string) ([]byte, error)
	Delete(handle string) error
}

// Config wires the service to its collaborators.
type Config struct {
	Store     *session.Store
	Bus       *logbus.Bus
	Executor  *pipeline.Executor
	Research  pipeline.Group
	Build     pipeline.Group
	Artifacts Artifacts
	Tracer    *ledger.Tracer
	Reasoners *pipeline.Router[reasoning.Reasoner]
	Engine    string
	Registry  *Registry

	StatusLogTail int
	ChatTimeout   time.Duration
}

type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	if cfg.StatusLogTail <= 0 {
		cfg.StatusLogTail = 20
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 20 * time.Second
	}
	return &Service{cfg: cfg}
}

// Status is the getStatus payload.
type Status struct {
	*session.Session
	RecentLogs    []logbus.Event `json:"recentLogs"`
	Sequence      uint64         `json:"sequence"`
	ArtifactReady bool           `json:"artifactReady"`
}

// Confirm is a confirmBuild request.
type Confirm struct {
	ModelType string             `json:"modelType"`
	Confirmed bool               `json:"confirmed"`
	Overrides map[string]float64 `json:"overrides,omitempty"`
}

func (s *Service) CreateSession() *session.Session {
	sess := s.cfg.Store.Create()
	metrics.SessionsActive.Set(float64(s.cfg.Store.Len()))
	s.cfg.Tracer.SessionCreated(sess.ID)
	slog.Info("session created", "session", sess.ID)
	return sess
}

// SubmitResearch starts Research, Analysis and Planning for a created session.
// An unknown session is reported before the request is validated.
func (s *Service) SubmitResearch(id, query string) error {
	if _, err := s.cfg.Store.Get(id); err != nil {
		return err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}
	return s.cfg.Executor.Start(id, s.cfg.Research, func(sess *session.Session) error {
		if sess.Phase != session.Created {
			return fmt.Errorf("%w: research needs phase %s, session is %s", session.ErrInvalidPhase, session.Created, sess.Phase)
		}
		sess.Query = query
		sess.Error = nil
		return nil
	})
}

// ConfirmBuild records the caller's decision. A confirmation starts Build,
// QA and Delivery; a decline resets the session to created and reports reset.
func (s *Service) ConfirmBuild(id string, req Confirm) (reset bool, err error) {
	if _, err := s.cfg.Store.Get(id); err != nil {
		return false, err
	}
	var model finance.ModelType
	if req.ModelType != "" {
		if model, err = finance.ParseModelType(req.ModelType); err != nil {
			return false, fmt.Errorf("%w: %q", err, req.ModelType)
		}
	}
	for key := range req.Overrides {
		if !workbook.Overridable(key) {
			return false, fmt.Errorf("%w: %q", ErrUnknownOverride, key)
		}
	}
	intent := &session.Confirmation{ModelType: model, Confirmed: req.Confirmed, Overrides: req.Overrides, At: time.Now()}
	awaiting := func(sess *session.Session) error {
		if sess.Phase != session.AwaitingConfirmation {
			return fmt.Errorf("%w: confirm needs phase %s, session is %s", session.ErrInvalidPhase, session.AwaitingConfirmation, sess.Phase)
		}
		return nil
	}

	if !req.Confirmed {
		_, err := s.cfg.Store.Update(id, func(sess *session.Session) error {
			if sess.Running != "" {
				return session.ErrBusy
			}
			if err := awaiting(sess); err != nil {
				return err
			}
			if err := sess.Transition(session.Created); err != nil {
				return err
			}
			sess.ResetResearch()
			sess.Confirmation = intent
			return nil
		})
		if err != nil {
			return false, err
		}
		s.cfg.Tracer.SessionPhase(id, "", string(session.Created))
		slog.Info("confirmation declined", "session", id)
		return true, nil
	}

	return false, s.cfg.Executor.Start(id, s.cfg.Build, func(sess *session.Session) error {
		if err := awaiting(sess); err != nil {
			return err
		}
		sess.Confirmation = intent
		return nil
	})
}

func (s *Service) Status(id string) (*Status, error) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		return nil, err
	}
	s.cfg.Store.Touch(id)
	logs := s.cfg.Bus.Recent(id, s.cfg.StatusLogTail)
	if logs == nil {
		logs = []logbus.Event{}
	}
	return &Status{
		Session:       sess,
		RecentLogs:    logs,
		Sequence:      s.cfg.Bus.LastSequence(id),
		ArtifactReady: sess.Phase == session.Delivered && sess.Artifact != nil,
	}, nil
}

// StreamLogs subscribes to the session's events from the current tail.
// Running reports whether a group is executing, i.e. whether a done event is
// still to come. A session that is delivered or failed runs nothing more, so
// its stream gets a closing done event right away. Any other idle session
// streams until the next group it runs reports done.
func (s *Service) StreamLogs(id string) (sub *logbus.Subscription, running bool, err error) {
	if _, err := s.cfg.Store.Get(id); err != nil {
		return nil, false, err
	}
	s.cfg.Store.Touch(id)
	sub, _ = s.cfg.Bus.Subscribe(id)
	// a group may have finished between the read and the subscribe
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		sub.Cancel()
		return nil, false, err
	}
	running = sess.Running != ""
	if !running && sess.Phase.Terminal() {
		sub.End("session", "session "+string(sess.Phase))
	}
	return sub, running, nil
}

// Download returns the delivered workbook and its file name.
func (s *Service) Download(id string) (string, []byte, error) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		return "", nil, err
	}
	if sess.Phase != session.Delivered || sess.Artifact == nil {
		return "", nil, fmt.Errorf("%w: session is %s", session.ErrNotReady, sess.Phase)
	}
	s.cfg.Store.Touch(id)
	data, err := s.cfg.Artifacts.Get(sess.Artifact.Handle)
	if err != nil {
		return "", nil, fmt.Errorf("read artifact: %w", err)
	}
	return sess.Artifact.FileName, data, nil
}

// Dispose removes an idle session with its log topic and artifact.
func (s *Service) Dispose(id string) error {
	var last *session.Session
	err := s.cfg.Store.Delete(id, func(sess *session.Session) error {
		if sess.Running != "" {
			return session.ErrBusy
		}
		last = sess.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	s.release(last)
	slog.Info("session disposed", "session", id)
	return nil
}

// Expire releases what the idle janitor swept.
func (s *Service) Expire(expired []*session.Session) {
	for _, sess := range expired {
		s.release(sess)
	}
	metrics.SessionsExpired.Add(float64(len(expired)))
}

func (s *Service) release(sess *session.Session) {
	s.cfg.Bus.Close(sess.ID)
	if sess.Artifact != nil {
		if err := s.cfg.Artifacts.Delete(sess.Artifact.Handle); err != nil {
			slog.Warn("artifact delete failed", "session", sess.ID, "error", err)
		}
	}
	s.cfg.Tracer.SessionEnded(sess.ID)
	metrics.SessionsActive.Set(float64(s.cfg.Store.Len()))
}

// ChatReply is an analyst answer and the engine that produced it.
type ChatReply struct {
	Answer string `json:"answer"`
	Source string `json:"source"`
}

// Chat answers a question about the session's company with the requested
// engine, or the configured one. Engine failures fall back to the rules summary.
func (s *Service) Chat(ctx context.Context, sessionID, engine, question string) (*ChatReply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	var company *finance.CompanyData
	if sessionID != "" {
		sess, err := s.cfg.Store.Get(sessionID)
		if err != nil {
			return nil, err
		}
		s.cfg.Store.Touch(sessionID)
		company = sess.Company
	}

	if engine == "" {
		engine = s.cfg.Engine
	}
	var r reasoning.Reasoner = reasoning.Rules{}
	if s.cfg.Reasoners != nil {
		if routed, err := s.cfg.Reasoners.Route(engine); err == nil {
			r = routed
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()
	answer, err := r.Ask(ctx, question, company)
	if err == nil {
		return &ChatReply{Answer: answer, Source: r.Name()}, nil
	}
	slog.Warn("chat engine failed", "engine", r.Name(), "error", err)
	metrics.ReasoningFallbacks.WithLabelValues("chat").Inc()
	answer, err = reasoning.Rules{}.Ask(ctx, question, company)
	if err != nil {
		return nil, err
	}
	return &ChatReply{Answer: answer, Source: reasoning.RulesEngine}, nil
}

// Engines lists the registered reasoning engines.
func (s *Service) Engines() []string {
	if s.cfg.Reasoners == nil {
		return []string{reasoning.RulesEngine}
	}
	return s.cfg.Reasoners.Engines()
}

func (s *Service) Readiness(ctx context.Context) Readiness {
	if s.cfg.Registry == nil {
		return Readiness{Status: "ok", Components: map[string]ComponentCheck{}}
	}
	return s.cfg.Registry.Check(ctx)
}
