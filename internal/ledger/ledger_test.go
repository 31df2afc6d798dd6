package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, migrate(s.db))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)
}

func TestTracerRecordsRunsAndSpans(t *testing.T) {
	s := openMemory(t)
	tr := NewTracer(s)

	tr.SessionCreated("s1")
	tr.SessionPhase("s1", "Analyse Infosys", "researching")
	run := tr.StartRun("s1", "research")
	start := time.Now()
	tr.RecordSpan(run, "research", 1, start, 12.5, "error", "DataUnavailable", "yahoo: 503")
	tr.RecordSpan(run, "research", 2, start.Add(time.Millisecond), 8, "ok", "", "")
	tr.RecordSpan(run, "analysis", 1, start.Add(2*time.Millisecond), 3, "ok", "", "")
	tr.EndRun(run, 30, "ok", "")
	tr.SessionPhase("s1", "", "awaiting_confirmation")
	tr.Close()

	sessions, total, err := s.ListSessions(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Analyse Infosys", sessions[0].Query)
	assert.Equal(t, "awaiting_confirmation", sessions[0].Phase)
	assert.Equal(t, 1, sessions[0].RunCount)

	sess, runs, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, "research", runs[0].Group)
	assert.Equal(t, 3, runs[0].SpanCount)
	assert.Equal(t, "ok", runs[0].Status)

	r, spans, err := s.GetRun("s1", run)
	require.NoError(t, err)
	assert.Equal(t, 30.0, r.DurationMs)
	require.Len(t, spans, 3)
	assert.Equal(t, 1, spans[0].Attempt)
	assert.Equal(t, "DataUnavailable", spans[0].ErrorKind)
	assert.Equal(t, "analysis", spans[2].Name)
}

func TestGetMissing(t *testing.T) {
	s := openMemory(t)
	_, _, err := s.GetSession("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.GetRun("nope", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNilTracerIsNoop(t *testing.T) {
	var tr *Tracer
	assert.Equal(t, "", tr.StartRun("s", "g"))
	tr.RecordSpan("", "x", 1, time.Now(), 0, "ok", "", "")
	tr.Close()
	assert.Nil(t, NewTracer(nil))
}
