// Package ledger records pipeline runs and stage spans in a SQL database.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 500

var ErrNotFound = errors.New("ledger record not found")

// Store persists ledger data to PostgreSQL (driver "pgx") or SQLite ("sqlite3").
type Store struct {
	db *sql.DB
}

// Open connects to the ledger database and applies pending migrations.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "pgx", "sqlite3":
	default:
		return nil, fmt.Errorf("ledger open: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger open: %w", err)
	}
	if driver == "sqlite3" {
		// one connection keeps an in-memory database alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session and prunes the oldest beyond the retention cap.
func (s *Store) CreateSession(id string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES ($1, $2)`,
		id, startedAt.UTC(),
	)
	if err != nil {
		return err
	}
	return s.prune()
}

func (s *Store) prune() error {
	keep := `SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1`
	stmts := []string{
		`DELETE FROM spans WHERE run_id IN (SELECT id FROM runs WHERE session_id NOT IN (` + keep + `))`,
		`DELETE FROM runs WHERE session_id NOT IN (` + keep + `)`,
		`DELETE FROM sessions WHERE id NOT IN (` + keep + `)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q, maxSessions); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSession records the session's latest query and phase.
func (s *Store) UpdateSession(id, query, phase string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET query = CASE WHEN $1 = '' THEN query ELSE $1 END, phase = $2 WHERE id = $3`,
		query, phase, id,
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(id string, endedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = $1 WHERE id = $2`,
		endedAt.UTC(), id,
	)
	return err
}

func (s *Store) CreateRun(id, sessionID, group string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, session_id, grp, started_at, status) VALUES ($1, $2, $3, $4, 'running')`,
		id, sessionID, group, startedAt.UTC(),
	)
	return err
}

// UpdateRun sets the run's final fields.
func (s *Store) UpdateRun(id string, durationMs float64, status, errorKind string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET duration_ms = $1, status = $2, error_kind = $3 WHERE id = $4`,
		durationMs, status, errorKind, id,
	)
	return err
}

func (s *Store) CreateSpan(sp Span) error {
	_, err := s.db.Exec(
		`INSERT INTO spans (id, run_id, name, attempt, started_at, duration_ms, status, error_kind, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sp.ID, sp.RunID, sp.Name, sp.Attempt, sp.StartedAt.UTC(),
		sp.DurationMs, sp.Status, sp.ErrorKind, sp.Error,
	)
	return err
}

// ListSessions returns sessions ordered newest first, with run counts.
func (s *Store) ListSessions(limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT s.id, s.query, s.phase, s.started_at, s.ended_at, COUNT(r.id) AS run_count
		FROM sessions s
		LEFT JOIN runs r ON r.session_id = s.id
		GROUP BY s.id, s.query, s.phase, s.started_at, s.ended_at
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.Query, &sess.Phase, &sess.StartedAt, &endedAt, &sess.RunCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single session with its runs in start order.
func (s *Store) GetSession(id string) (*Session, []Run, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, query, phase, started_at, ended_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Query, &sess.Phase, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.session_id, r.grp, r.started_at, r.duration_ms, r.status, r.error_kind,
		       COUNT(sp.id) AS span_count
		FROM runs r
		LEFT JOIN spans sp ON sp.run_id = r.id
		WHERE r.session_id = $1
		GROUP BY r.id, r.session_id, r.grp, r.started_at, r.duration_ms, r.status, r.error_kind
		ORDER BY r.started_at ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err = rows.Scan(&r.ID, &r.SessionID, &r.Group, &r.StartedAt, &r.DurationMs, &r.Status, &r.ErrorKind, &r.SpanCount); err != nil {
			return nil, nil, err
		}
		runs = append(runs, r)
	}
	return &sess, runs, rows.Err()
}

// GetRun returns a single run with its spans in start order.
func (s *Store) GetRun(sessionID, runID string) (*Run, []Span, error) {
	var r Run
	err := s.db.QueryRow(
		`SELECT id, session_id, grp, started_at, duration_ms, status, error_kind FROM runs WHERE id = $1 AND session_id = $2`,
		runID, sessionID,
	).Scan(&r.ID, &r.SessionID, &r.Group, &r.StartedAt, &r.DurationMs, &r.Status, &r.ErrorKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, name, attempt, started_at, duration_ms, status, error_kind, error_msg
		 FROM spans WHERE run_id = $1 ORDER BY started_at ASC, attempt ASC`,
		runID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	spans := []Span{}
	for rows.Next() {
		var sp Span
		if err = rows.Scan(&sp.ID, &sp.RunID, &sp.Name, &sp.Attempt, &sp.StartedAt, &sp.DurationMs, &sp.Status, &sp.ErrorKind, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	return &r, spans, rows.Err()
}
