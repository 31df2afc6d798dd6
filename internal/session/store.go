package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu      sync.Mutex
	s       *Session
	removed bool
}

// Store holds sessions in memory. Mutations for one session are serialized on
// that session's lock; different sessions never contend beyond the map lookup.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry), now: time.Now}
}

// Create registers a new session in phase created.
func (st *Store) Create() *Session {
	now := st.now()
	s := &Session{
		ID:         uuid.NewString(),
		Phase:      Created,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastActive: now,
	}
	st.mu.Lock()
	st.entries[s.ID] = &entry{s: s}
	st.mu.Unlock()
	return s.Clone()
}

func (st *Store) lookup(id string) (*entry, error) {
	st.mu.RLock()
	e, ok := st.entries[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a snapshot of the session.
func (st *Store) Get(id string) (*Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	return e.s.Clone(), nil
}

// Update applies fn to a working copy of the session under its lock. The copy
// is committed only when fn returns nil, so a rejected mutation leaves no trace.
func (st *Store) Update(id string, fn func(*Session) error) (*Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	work := e.s.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	now := st.now()
	work.UpdatedAt = now
	work.LastActive = now
	e.s = work
	return work.Clone(), nil
}

// Touch records caller activity for idle expiry.
func (st *Store) Touch(id string) {
	e, err := st.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.s.LastActive = st.now()
	e.mu.Unlock()
}

// Delete removes the session if guard accepts it. A nil guard always accepts.
func (st *Store) Delete(id string, guard func(*Session) error) error {
	e, err := st.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return ErrNotFound
	}
	if guard != nil {
		if err := guard(e.s); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.removed = true
	e.mu.Unlock()

	st.mu.Lock()
	delete(st.entries, id)
	st.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// Sweep removes sessions idle for longer than idle and returns their final
// snapshots. Sessions with a pipeline running, or in the building/auditing
// group, are kept regardless of age.
func (st *Store) Sweep(idle time.Duration) []*Session {
	cutoff := st.now().Add(-idle)

	st.mu.RLock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	var removed []*Session
	for _, id := range ids {
		var last *Session
		err := st.Delete(id, func(s *Session) error {
			if s.Running != "" || s.Phase.Executing() || s.LastActive.After(cutoff) {
				return ErrBusy
			}
			last = s.Clone()
			return nil
		})
		if err == nil {
			removed = append(removed, last)
		}
	}
	return removed
}

// Janitor runs Sweep every interval until ctx is done, handing removed sessions to onExpire.
func (st *Store) Janitor(ctx context.Context, interval, idle time.Duration, onExpire func([]*Session)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := st.Sweep(idle)
			if len(removed) == 0 {
				continue
			}
			slog.Info("sessions expired", "count", len(removed))
			if onExpire != nil {
				onExpire(removed)
			}
		}
	}
}
