package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/datasource"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

type recorder struct {
	mu     sync.Mutex
	events []logbus.Event
}

func (r *recorder) Emit(status logbus.Status, message string) {
	r.mu.Lock()
	r.events = append(r.events, logbus.Event{Status: status, Message: message})
	r.mu.Unlock()
}

func (r *recorder) count(status logbus.Status) int {
	n := 0
	for _, ev := range r.events {
		if ev.Status == status {
			n++
		}
	}
	return n
}

func fixture(t *testing.T, ticker string) finance.CompanyData {
	t.Helper()
	fixtures, err := datasource.LoadFixtures("")
	require.NoError(t, err)
	c, err := fixtures.Fetch(context.Background(), datasource.Identity{Ticker: ticker})
	require.NoError(t, err)
	return *c
}

func TestPlanOrderedForEveryFixture(t *testing.T) {
	for _, ticker := range []string{"INFY.NS", "TCS.NS", "AAPL", "MSFT", "CCL", "KO"} {
		c := fixture(t, ticker)
		for _, model := range []finance.ModelType{finance.DCF, finance.LBO, finance.ThreeStatement, finance.FPA} {
			set := Plan(c, model)
			assert.True(t, set.Ordered(), "%s %s", ticker, model)
			assert.False(t, set.UsedDefaults, ticker)
			for _, key := range finance.GrowthDrivers {
				assert.Contains(t, set.Base.Values, key)
			}
		}
	}
}

func TestPlanShortHistoryUsesDefaults(t *testing.T) {
	c := fixture(t, "AAPL")
	c.Revenue = c.Revenue[:2]
	c.EBITDA = c.EBITDA[:2]

	set := Plan(c, finance.DCF)
	assert.True(t, set.UsedDefaults)
	assert.True(t, set.Ordered())
	assert.InDelta(t, defaultGrowth, set.Base.Values[finance.DriverGrowthY1], 1e-9)
	assert.InDelta(t, defaultMargin, set.Base.Values[finance.DriverEBITDAMargin], 1e-9)
	assert.NotEmpty(t, set.Notes)
}

func TestPlanDeceleratesGrowth(t *testing.T) {
	set := Plan(fixture(t, "INFY.NS"), finance.DCF)
	base := set.Base.Values
	for i := 1; i < len(finance.GrowthDrivers); i++ {
		prev, cur := base[finance.GrowthDrivers[i-1]], base[finance.GrowthDrivers[i]]
		if prev > 0 {
			assert.LessOrEqual(t, cur, prev)
		}
	}
	assert.InDelta(t, 0.055, base[finance.DriverTerminalGrowth], 1e-9)
}

func TestPlanLBOExitMultiple(t *testing.T) {
	set := Plan(fixture(t, "AAPL"), finance.LBO)
	assert.InDelta(t, lboExitMultiple, set.Base.Values[finance.DriverExitMultiple], 1e-9)
	assert.InDelta(t, 0.025, set.Base.Values[finance.DriverTerminalGrowth], 1e-9)
	assert.Contains(t, set.Assumptions, finance.EntryMultiple)
}

func TestPlanningWarnsOnShortHistory(t *testing.T) {
	c := fixture(t, "KO")
	c.Revenue = c.Revenue[:1]
	c.EBITDA = c.EBITDA[:1]
	rec := &recorder{}
	snap := &Snapshot{Session: &session.Session{Company: &c, Recommendation: &finance.Recommendation{Type: finance.DCF}}}

	patch, err := NewPlanning().Run(context.Background(), snap, rec)
	require.NoError(t, err)
	require.NotNil(t, patch.Scenarios)
	assert.True(t, patch.Scenarios.UsedDefaults)
	assert.Equal(t, 1, rec.count(logbus.Warning))
}

type countingStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingStore) Put(context.Context, []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "00000000-0000-0000-0000-000000000000", nil
}

func draft(t *testing.T) *workbook.Workbook {
	t.Helper()
	c := fixture(t, "INFY.NS")
	wb, err := workbook.NewBuilder().Build(context.Background(), workbook.Request{
		Model:     finance.DCF,
		Company:   c,
		Scenarios: Plan(c, finance.DCF),
	})
	require.NoError(t, err)
	return wb
}

func TestDeliveryIsIdempotent(t *testing.T) {
	store := &countingStore{}
	d := NewDelivery(store, func(*workbook.Workbook) ([]byte, error) { return []byte("xlsx"), nil })
	existing := &session.Artifact{Handle: "h", FileName: "Infosys_Ltd_DCF_Model.xlsx", Size: 10}
	snap := &Snapshot{Session: &session.Session{Artifact: existing}, Draft: draft(t)}

	patch, err := d.Run(context.Background(), snap, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, existing, patch.Artifact)
	assert.Zero(t, store.calls)
}

func TestDeliveryStoresRenderedWorkbook(t *testing.T) {
	store := &countingStore{}
	d := NewDelivery(store, nil)
	snap := &Snapshot{Session: &session.Session{}, Draft: draft(t)}

	patch, err := d.Run(context.Background(), snap, &recorder{})
	require.NoError(t, err)
	require.NotNil(t, patch.Artifact)
	assert.Equal(t, "Infosys_Ltd_DCF_Model.xlsx", patch.Artifact.FileName)
	assert.Positive(t, patch.Artifact.Size)
	assert.Equal(t, 1, store.calls)
}

func TestDeliveryStoreFailureIsRetryable(t *testing.T) {
	d := NewDelivery(&countingStore{err: errors.New("disk full")}, nil)
	_, err := d.Run(context.Background(), &Snapshot{Session: &session.Session{}, Draft: draft(t)}, &recorder{})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable)
	assert.Equal(t, finance.BuildError, se.Kind)
}

func TestBuildRequiresResearch(t *testing.T) {
	_, err := NewBuild(workbook.NewBuilder()).Run(context.Background(), &Snapshot{Session: &session.Session{}}, &recorder{})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, finance.BuildError, se.Kind)
	assert.False(t, se.Retryable)
}

func TestModelFor(t *testing.T) {
	s := &session.Session{Recommendation: &finance.Recommendation{Type: finance.DCF}}
	assert.Equal(t, finance.DCF, ModelFor(s))
	s.Confirmation = &session.Confirmation{Confirmed: true}
	assert.Equal(t, finance.DCF, ModelFor(s))
	s.Confirmation.ModelType = finance.FPA
	assert.Equal(t, finance.FPA, ModelFor(s))
}

func TestClassify(t *testing.T) {
	se := classify("research", finance.DataUnavailable, context.DeadlineExceeded)
	assert.True(t, se.Retryable)
	assert.Equal(t, finance.DataUnavailable, se.Kind)
	assert.Equal(t, "research", se.Stage)

	se = classify("qa", finance.BuildError, Fatal(finance.Internal, errors.New("x")))
	assert.Equal(t, finance.Internal, se.Kind)
	assert.Equal(t, "qa", se.Stage)
	assert.False(t, se.Retryable)
}
