package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/qa"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

// WorkbookBuilder is the artifact-building collaborator.
type WorkbookBuilder interface {
	Build(ctx context.Context, req workbook.Request) (*workbook.Workbook, error)
	Correct(ctx context.Context, wb *workbook.Workbook, issues []finance.Issue) (*workbook.Workbook, error)
}

// Auditor runs the QA checklist.
type Auditor interface {
	Audit(wb *workbook.Workbook) qa.Result
}

// ArtifactStore keeps rendered workbooks under stable handles.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// Build asks the builder for a draft workbook.
type Build struct {
	builder WorkbookBuilder
}

func NewBuild(b WorkbookBuilder) *Build { return &Build{builder: b} }

func (b *Build) Name() string { return "build" }

// ModelFor is the model a session builds: the confirmed override when one
// was given, the recommendation otherwise.
func ModelFor(s *session.Session) finance.ModelType {
	if s.Confirmation != nil && s.Confirmation.ModelType.Valid() {
		return s.Confirmation.ModelType
	}
	if s.Recommendation != nil {
		return s.Recommendation.Type
	}
	return ""
}

func (b *Build) Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error) {
	s := in.Session
	if s.Company == nil || s.Scenarios == nil {
		return Patch{}, Fatal(finance.BuildError, errors.New("build needs company data and scenarios"))
	}
	model := ModelFor(s)
	emitf(log, logbus.Thinking, "Assembling %s workbook for %s", model.Label(), s.Company.Name)

	scenarios := *s.Scenarios.Clone()
	if scenarios.Assumptions == nil {
		scenarios.Assumptions = make(map[string]float64)
	}
	// a model switched at confirmation still needs its own inputs
	for k, v := range assumptionsFor(*s.Company, model) {
		if _, ok := scenarios.Assumptions[k]; !ok {
			scenarios.Assumptions[k] = v
		}
	}
	var overrides map[string]float64
	if s.Confirmation != nil {
		overrides = s.Confirmation.Overrides
	}

	wb, err := b.builder.Build(ctx, workbook.Request{
		Model:     model,
		Company:   *s.Company,
		Scenarios: scenarios,
		Overrides: overrides,
	})
	if err != nil {
		return Patch{}, Fatal(finance.BuildError, err)
	}
	emitf(log, logbus.Success, "Built %d sheets: %s", len(wb.SheetNames()), strings.Join(wb.SheetNames(), ", "))
	return Patch{Draft: wb}, nil
}

// Audit runs the checklist and requests targeted corrections until it passes
// or the correction budget is spent. Unresolved issues never block delivery.
type Audit struct {
	checklist      Auditor
	corrector      WorkbookBuilder
	maxCorrections int
}

func NewAudit(checklist Auditor, corrector WorkbookBuilder, maxCorrections int) *Audit {
	if maxCorrections < 0 {
		maxCorrections = 0
	}
	return &Audit{checklist: checklist, corrector: corrector, maxCorrections: maxCorrections}
}

func (a *Audit) Name() string { return "qa" }

func (a *Audit) Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error) {
	wb := in.Draft
	if wb == nil {
		return Patch{}, Fatal(finance.BuildError, errors.New("no draft workbook to audit"))
	}
	emitf(log, logbus.Thinking, "Running QA checklist")

	res := a.checklist.Audit(wb)
	initial := res.Failed
	report := finance.QAReport{ChecksTotal: res.Total}

	for attempt := 1; !res.OK() && attempt <= a.maxCorrections; attempt++ {
		emitf(log, logbus.Thinking, "Correction %d of %d for %s", attempt, a.maxCorrections, strings.Join(res.Failed, ", "))
		metrics.QACorrections.Inc()
		report.Attempts = attempt
		revised, err := a.corrector.Correct(ctx, wb, res.Issues)
		if err != nil {
			if ctx.Err() != nil {
				return Patch{}, Retry(finance.BuildError, fmt.Errorf("correction: %w", err))
			}
			emitf(log, logbus.Warning, "Correction %d failed: %v", attempt, err)
			break
		}
		wb = revised
		res = a.checklist.Audit(wb)
	}

	report.ChecksPassed = res.Passed
	report.Issues = res.Issues
	for _, id := range initial {
		if !slices.Contains(res.Failed, id) {
			report.Fixed = append(report.Fixed, id)
		}
	}

	if res.OK() {
		emitf(log, logbus.Success, "QA checks passed: %d of %d validations", report.ChecksPassed, report.ChecksTotal)
	} else {
		metrics.QAUnresolved.Inc()
		metrics.Errors.WithLabelValues(a.Name(), string(finance.QAUnresolved)).Inc()
		emitf(log, logbus.Warning, "%s: %d of %d checks pass after %d corrections; unresolved: %s",
			finance.QAUnresolved, report.ChecksPassed, report.ChecksTotal, report.Attempts, strings.Join(res.Failed, ", "))
	}
	return Patch{QA: &report, Draft: wb}, nil
}

// Delivery renders the audited draft and records its download handle.
// A session that already carries an artifact keeps it.
type Delivery struct {
	store  ArtifactStore
	render func(*workbook.Workbook) ([]byte, error)
}

func NewDelivery(store ArtifactStore, render func(*workbook.Workbook) ([]byte, error)) *Delivery {
	if render == nil {
		render = workbook.Render
	}
	return &Delivery{store: store, render: render}
}

func (d *Delivery) Name() string { return "delivery" }

func (d *Delivery) Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error) {
	if a := in.Session.Artifact; a != nil {
		emitf(log, logbus.Info, "Already delivered as %s", a.FileName)
		return Patch{Artifact: a}, nil
	}
	wb := in.Draft
	if wb == nil {
		return Patch{}, Fatal(finance.BuildError, errors.New("no workbook to deliver"))
	}
	data, err := d.render(wb)
	if err != nil {
		return Patch{}, Fatal(finance.BuildError, fmt.Errorf("render: %w", err))
	}
	handle, err := d.store.Put(ctx, data)
	if err != nil {
		return Patch{}, Retry(finance.BuildError, fmt.Errorf("store artifact: %w", err))
	}
	a := &session.Artifact{Handle: handle, FileName: wb.FileName(), Size: len(data)}
	emitf(log, logbus.Success, "Workbook ready: %s", a.FileName)
	return Patch{Artifact: a}, nil
}
