package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/artifact"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/datasource"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/qa"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/reasoning"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

type harness struct {
	store     *session.Store
	bus       *logbus.Bus
	exec      *Executor
	artifacts *artifact.FileStore
	research  Group
	build     Group
}

type options struct {
	reasoner reasoning.Reasoner
	timeout  time.Duration
	auditor  Auditor
	// source wraps the fixture chain when set
	source func(datasource.Provider) datasource.Provider
}

// failingTicker errors for one ticker and defers to next for the rest.
type failingTicker struct {
	next   datasource.Provider
	ticker string
}

func (f failingTicker) Name() string { return f.next.Name() }

func (f failingTicker) Fetch(ctx context.Context, id datasource.Identity) (*finance.CompanyData, error) {
	if id.Ticker == f.ticker {
		return nil, errors.New("quote service unavailable")
	}
	return f.next.Fetch(ctx, id)
}

func newHarness(t *testing.T, opt options) *harness {
	t.Helper()
	catalog, err := datasource.LoadCatalog("")
	require.NoError(t, err)
	fixtures, err := datasource.LoadFixtures("")
	require.NoError(t, err)
	files, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	if opt.reasoner == nil {
		opt.reasoner = reasoning.Rules{}
	}
	if opt.auditor == nil {
		opt.auditor = qa.Default()
	}
	builder := workbook.NewBuilder()
	var source datasource.Provider = datasource.NewChain(1, time.Millisecond, fixtures)
	if opt.source != nil {
		source = opt.source(source)
	}

	h := &harness{
		store:     session.NewStore(),
		bus:       logbus.New(0, 0),
		artifacts: files,
		research: NewResearchGroup(
			NewResearch(catalog, source, 2),
			NewAnalysis(opt.reasoner, opt.timeout),
			NewPlanning(),
		),
		build: NewBuildGroup(
			NewBuild(builder),
			NewAudit(opt.auditor, builder, 3),
			NewDelivery(files, nil),
		),
	}
	h.exec = NewExecutor(h.store, h.bus, nil, Config{Workers: 4, StageTimeout: 5 * time.Second, MaxAttempts: 3, RetryInterval: time.Millisecond})
	t.Cleanup(func() { h.exec.Close(context.Background()) })
	return h
}

// run starts g and collects the session's events until the group's done event.
func (h *harness) run(t *testing.T, id string, g Group, admit func(*session.Session) error) []logbus.Event {
	t.Helper()
	sub, _ := h.bus.Subscribe(id)
	require.NoError(t, h.exec.Start(id, g, admit))
	return collect(t, sub)
}

func collect(t *testing.T, sub *logbus.Subscription) []logbus.Event {
	t.Helper()
	var events []logbus.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for done")
		}
	}
}

func query(q string) func(*session.Session) error {
	return func(s *session.Session) error {
		if s.Phase != session.Created {
			return session.ErrInvalidPhase
		}
		s.Query = q
		return nil
	}
}

func confirm(model finance.ModelType) func(*session.Session) error {
	return func(s *session.Session) error {
		if s.Phase != session.AwaitingConfirmation {
			return session.ErrInvalidPhase
		}
		s.Confirmation = &session.Confirmation{ModelType: model, Confirmed: true, At: time.Now()}
		return nil
	}
}

func assertOrdered(t *testing.T, events []logbus.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
	assert.Equal(t, logbus.Done, events[len(events)-1].Status)
}

func withStatus(events []logbus.Event, status logbus.Status) []logbus.Event {
	var out []logbus.Event
	for _, ev := range events {
		if ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}

func TestScenarioResearchAndBuildDelivers(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()

	events := h.run(t, s.ID, h.research, query("Analyse Infosys and build a DCF model"))
	assertOrdered(t, events)

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
	assert.Empty(t, got.Running)
	require.NotNil(t, got.Company)
	assert.Equal(t, "INFY.NS", got.Company.Ticker)
	assert.Equal(t, finance.DCF, got.Company.RequestedModel)
	require.NotNil(t, got.Recommendation)
	assert.Equal(t, finance.DCF, got.Recommendation.Type)
	require.NotNil(t, got.Scenarios)
	assert.True(t, got.Scenarios.Ordered())
	assert.Nil(t, got.Artifact)

	events = h.run(t, s.ID, h.build, confirm(""))
	assertOrdered(t, events)
	assert.Empty(t, withStatus(events, logbus.Error))

	got, err = h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Delivered, got.Phase)
	require.NotNil(t, got.Artifact)
	assert.Equal(t, "Infosys_Ltd_DCF_Model.xlsx", got.Artifact.FileName)
	require.NotNil(t, got.QA)
	assert.Equal(t, 10, got.QA.ChecksTotal)
	assert.Equal(t, 10, got.QA.ChecksPassed)

	data, err := h.artifacts.Get(got.Artifact.Handle)
	require.NoError(t, err)
	assert.Equal(t, got.Artifact.Size, len(data))
}

func TestFailedPeerIsSkippedWithWarning(t *testing.T) {
	h := newHarness(t, options{source: func(next datasource.Provider) datasource.Provider {
		return failingTicker{next: next, ticker: "WIPRO.NS"}
	}})
	s := h.store.Create()

	events := h.run(t, s.ID, h.research, query("Analyse Infosys"))
	assertOrdered(t, events)
	assert.Empty(t, withStatus(events, logbus.Error))

	var skipped bool
	for _, ev := range withStatus(events, logbus.Warning) {
		if strings.Contains(ev.Message, "WIPRO.NS") {
			skipped = true
		}
	}
	assert.True(t, skipped, "no warning for the failed peer")

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.Company)
	assert.Equal(t, "INFY.NS", got.Company.Ticker)
	tickers := make([]string, 0, len(got.Company.Peers))
	for _, p := range got.Company.Peers {
		tickers = append(tickers, p.Ticker)
	}
	assert.NotContains(t, tickers, "WIPRO.NS")
	assert.Contains(t, tickers, "TCS.NS")
}

func TestScenarioUnresolvableCompanyFails(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()

	events := h.run(t, s.ID, h.research, query("Analyse Zzyzx Holdings Of Nowhere"))
	assertOrdered(t, events)
	errs := withStatus(events, logbus.Error)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, string(finance.DataUnavailable))

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Failed, got.Phase)
	require.NotNil(t, got.Error)
	assert.Equal(t, finance.DataUnavailable, got.Error.Kind)
	assert.Nil(t, got.Company)
	assert.Nil(t, got.Artifact)
	assert.Empty(t, got.Running)

	err = h.exec.Start(s.ID, h.build, confirm(""))
	assert.ErrorIs(t, err, session.ErrInvalidPhase)
}

// stalled never answers; it returns only when the test ends.
type stalled struct{ release chan struct{} }

func (s stalled) Name() string { return "stalled" }

func (s stalled) Recommend(context.Context, finance.CompanyData, finance.ModelType) (*finance.Recommendation, error) {
	<-s.release
	return nil, errors.New("released")
}

func (s stalled) Ask(context.Context, string, *finance.CompanyData) (string, error) {
	<-s.release
	return "", errors.New("released")
}

func TestScenarioReasoningTimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, options{reasoner: stalled{release}, timeout: 50 * time.Millisecond})
	s := h.store.Create()

	events := h.run(t, s.ID, h.research, query("Analyse Apple"))
	assertOrdered(t, events)
	warnings := withStatus(events, logbus.Warning)
	var timeout bool
	for _, w := range warnings {
		if w.Agent == "analysis" && strings.Contains(w.Message, string(finance.ReasoningTimeout)) {
			timeout = true
		}
	}
	assert.True(t, timeout, "expected a ReasoningTimeout warning in %v", warnings)

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
	require.NotNil(t, got.Recommendation)
	assert.Equal(t, reasoning.RulesEngine, got.Recommendation.Source)
	assert.NotNil(t, got.Scenarios)
}

type invalidLabel struct{}

func (invalidLabel) Name() string { return "confused" }

func (invalidLabel) Recommend(context.Context, finance.CompanyData, finance.ModelType) (*finance.Recommendation, error) {
	return &finance.Recommendation{Type: "Monte Carlo"}, nil
}

func (invalidLabel) Ask(context.Context, string, *finance.CompanyData) (string, error) { return "", nil }

func TestInvalidLabelFallsBack(t *testing.T) {
	h := newHarness(t, options{reasoner: invalidLabel{}})
	s := h.store.Create()
	events := h.run(t, s.ID, h.research, query("research Coca-Cola"))

	var warned bool
	for _, w := range withStatus(events, logbus.Warning) {
		if strings.Contains(w.Message, string(finance.ReasoningError)) {
			warned = true
		}
	}
	assert.True(t, warned)
	got, _ := h.store.Get(s.ID)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
	assert.Equal(t, reasoning.RulesEngine, got.Recommendation.Source)
}

// revisionAuditor fails two checks on the first revision; the correction
// clears one and the other never clears.
type revisionAuditor struct{}

func (revisionAuditor) Audit(wb *workbook.Workbook) qa.Result {
	stuck := finance.Issue{Check: finance.CheckFormulaIntegrity, Sheet: "DCF", Cell: "C16", Detail: "broken reference #REF!"}
	if wb.Revision == 0 {
		return qa.Result{
			Total:  10,
			Passed: 8,
			Failed: []string{finance.CheckFormulaIntegrity, finance.CheckGridlines},
			Issues: []finance.Issue{stuck, {Check: finance.CheckGridlines, Sheet: "COVER", Detail: "gridlines visible"}},
		}
	}
	return qa.Result{Total: 10, Passed: 9, Failed: []string{finance.CheckFormulaIntegrity}, Issues: []finance.Issue{stuck}}
}

func TestScenarioUnresolvedQAStillDelivers(t *testing.T) {
	h := newHarness(t, options{auditor: revisionAuditor{}})
	s := h.store.Create()
	h.run(t, s.ID, h.research, query("Analyse Infosys"))

	events := h.run(t, s.ID, h.build, confirm(""))
	assertOrdered(t, events)

	var unresolved bool
	for _, w := range withStatus(events, logbus.Warning) {
		if strings.Contains(w.Message, string(finance.QAUnresolved)) {
			unresolved = true
		}
	}
	assert.True(t, unresolved)

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Delivered, got.Phase)
	require.NotNil(t, got.Artifact)
	require.NotNil(t, got.QA)
	assert.Equal(t, 10, got.QA.ChecksTotal)
	assert.Equal(t, 9, got.QA.ChecksPassed)
	assert.Equal(t, 3, got.QA.Attempts)
	require.Len(t, got.QA.Issues, 1)
	assert.Equal(t, finance.CheckFormulaIntegrity, got.QA.Issues[0].Check)
	assert.Equal(t, []string{finance.CheckGridlines}, got.QA.Fixed)
}

func TestConfirmedModelOverride(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	h.run(t, s.ID, h.research, query("Analyse Infosys"))
	h.run(t, s.ID, h.build, confirm(finance.LBO))

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Delivered, got.Phase)
	assert.Equal(t, "Infosys_Ltd_LBO_Model.xlsx", got.Artifact.FileName)
	assert.Equal(t, 10, got.QA.ChecksPassed)
}

// gate blocks until released so tests can observe a running group.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Name() string { return "gate" }

func (g *gate) Run(ctx context.Context, _ *Snapshot, _ Emitter) (Patch, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return Patch{}, nil
}

func TestSecondStartIsBusyWithoutMutation(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	group := Group{Name: "research", Steps: []Step{{g, session.Researching}}, Done: session.AwaitingConfirmation, FailKind: finance.DataUnavailable}

	sub, _ := h.bus.Subscribe(s.ID)
	require.NoError(t, h.exec.Start(s.ID, group, query("first")))
	<-g.entered

	before, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "research", before.Running)

	var busy atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(h.exec.Start(s.ID, group, query("second")), session.ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(16), busy.Load())

	after, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Query, after.Query)
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	close(g.release)
	collect(t, sub)
	got, _ := h.store.Get(s.ID)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
	assert.Empty(t, got.Running)
}

func TestInvalidPhaseRejectedWithoutMutation(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	err := h.exec.Start(s.ID, h.build, confirm(""))
	assert.ErrorIs(t, err, session.ErrInvalidPhase)

	got, err := h.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Created, got.Phase)
	assert.Empty(t, got.Running)
	assert.Nil(t, got.Confirmation)
	assert.Equal(t, s.UpdatedAt, got.UpdatedAt)
}

// flaky fails with a retryable error until calls reaches ok.
type flaky struct {
	calls atomic.Int32
	ok    int32
	fatal bool
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) Run(context.Context, *Snapshot, Emitter) (Patch, error) {
	n := f.calls.Add(1)
	if n >= f.ok {
		return Patch{}, nil
	}
	if f.fatal {
		return Patch{}, Fatal(finance.DataUnavailable, errors.New("gone"))
	}
	return Patch{}, Retry(finance.DataUnavailable, errors.New("upstream 503"))
}

func single(st Stage) Group {
	return Group{Name: "research", Steps: []Step{{st, session.Researching}}, Done: session.AwaitingConfirmation, FailKind: finance.DataUnavailable}
}

func TestRetryableStageIsRetried(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	f := &flaky{ok: 3}
	events := h.run(t, s.ID, single(f), query("x"))

	assert.Equal(t, int32(3), f.calls.Load())
	assert.Empty(t, withStatus(events, logbus.Error))
	got, _ := h.store.Get(s.ID)
	assert.Equal(t, session.AwaitingConfirmation, got.Phase)
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	f := &flaky{ok: 100}
	h.run(t, s.ID, single(f), query("x"))

	assert.Equal(t, int32(3), f.calls.Load())
	got, _ := h.store.Get(s.ID)
	assert.Equal(t, session.Failed, got.Phase)
	assert.Equal(t, finance.DataUnavailable, got.Error.Kind)
	assert.Equal(t, "flaky", got.Error.Stage)
}

func TestFatalStageIsNotRetried(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	f := &flaky{ok: 100, fatal: true}
	h.run(t, s.ID, single(f), query("x"))
	assert.Equal(t, int32(1), f.calls.Load())
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) Run(context.Context, *Snapshot, Emitter) (Patch, error) { panic("boom") }

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, options{})
	s := h.store.Create()
	events := h.run(t, s.ID, single(panicky{}), query("x"))
	assertOrdered(t, events)

	got, _ := h.store.Get(s.ID)
	assert.Equal(t, session.Failed, got.Phase)
	assert.Equal(t, finance.Internal, got.Error.Kind)
	assert.Contains(t, got.Error.Message, "boom")
}

func TestSessionsRunInParallel(t *testing.T) {
	h := newHarness(t, options{})
	queries := []string{"Analyse Infosys", "Analyse TCS", "Analyse Apple", "Analyse Microsoft", "value Wipro", "research Coca-Cola"}
	var wg sync.WaitGroup
	ids := make([]string, len(queries))
	for i, q := range queries {
		s := h.store.Create()
		ids[i] = s.ID
		sub, _ := h.bus.Subscribe(s.ID)
		require.NoError(t, h.exec.Start(s.ID, h.research, query(q)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sub.Events() {
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		got, err := h.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, session.AwaitingConfirmation, got.Phase, got.Query)
	}
}

func TestCloseRejectsNewGroups(t *testing.T) {
	h := newHarness(t, options{})
	require.NoError(t, h.exec.Close(context.Background()))
	s := h.store.Create()
	assert.ErrorIs(t, h.exec.Start(s.ID, h.research, query("Analyse Infosys")), ErrClosed)
}
