package logbus

import (
	"sync"
	"time"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
)

// Status is the kind of a log event.
type Status string

const (
	Info     Status = "info"
	Thinking Status = "thinking"
	Success  Status = "success"
	Warning  Status = "warning"
	Error    Status = "error"
	Done     Status = "done"
)

// Event is one ordered progress notification for a session.
type Event struct {
	SessionID string    `json:"sessionId"`
	Sequence  uint64    `json:"sequence"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Time      time.Time `json:"time"`
}

const (
	DefaultBufferSize = 200
	DefaultQueueSize  = 256
)

// Bus fans out per-session events to subscribers and keeps the most recent
// events of each session in a bounded buffer for status reads.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	bufferSize int
	queueSize  int
	ended      bool
}

type topic struct {
	mu     sync.Mutex
	seq    uint64
	recent []Event
	subs   map[*Subscription]struct{}
}

func New(bufferSize, queueSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		topics:     make(map[string]*topic),
		bufferSize: bufferSize,
		queueSize:  queueSize,
	}
}

func (b *Bus) topic(sessionID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[sessionID] = t
	}
	return t
}

func (b *Bus) existing(sessionID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[sessionID]
}

// Publish stamps ev with the session's next sequence number, records it and
// delivers it to every subscriber without blocking. A subscriber whose queue is
// full is ended rather than skipped, so no subscriber ever observes a gap.
// A done event ends every current subscription; the topic stays open.
func (b *Bus) Publish(ev Event) Event {
	t := b.topic(ev.SessionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	ev.Sequence = t.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	t.recent = append(t.recent, ev)
	if over := len(t.recent) - b.bufferSize; over > 0 {
		t.recent = append(t.recent[:0:0], t.recent[over:]...)
	}
	metrics.LogEvents.WithLabelValues(string(ev.Status)).Inc()

	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.overflow = true
			t.detach(sub)
		}
	}
	if ev.Status == Done {
		for sub := range t.subs {
			t.detach(sub)
		}
	}
	return ev
}

// detach must be called with t.mu held.
func (t *topic) detach(sub *Subscription) {
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)
	close(sub.ch)
	metrics.LogSubscribers.Dec()
}

// Subscribe attaches to the session's live stream starting after the current
// tail. It returns the tail sequence so callers can stitch buffered history.
func (b *Bus) Subscribe(sessionID string) (*Subscription, uint64) {
	t := b.topic(sessionID)
	sub := &Subscription{id: sessionID, ch: make(chan Event, b.queueSize), t: t}
	b.mu.Lock()
	ended := b.ended
	b.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if ended {
		close(sub.ch)
		return sub, t.seq
	}
	t.subs[sub] = struct{}{}
	metrics.LogSubscribers.Inc()
	return sub, t.seq
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(sessionID string, n int) []Event {
	t := b.existing(sessionID)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	start := max(len(t.recent)-n, 0)
	out := make([]Event, len(t.recent)-start)
	copy(out, t.recent[start:])
	return out
}

// LastSequence is the sequence of the latest published event, 0 if none.
func (b *Bus) LastSequence(sessionID string) uint64 {
	t := b.existing(sessionID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Close discards the session's topic and ends its subscriptions.
func (b *Bus) Close(sessionID string) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	for sub := range t.subs {
		t.detach(sub)
	}
	t.mu.Unlock()
}

// EndAll ends every subscription on every session and keeps the topics.
// Later subscriptions start out ended.
func (b *Bus) EndAll() {
	b.mu.Lock()
	b.ended = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()
	for _, t := range topics {
		t.mu.Lock()
		for sub := range t.subs {
			t.detach(sub)
		}
		t.mu.Unlock()
	}
}

// Subscription is one subscriber's view of a session stream.
type Subscription struct {
	id       string
	ch       chan Event
	t        *topic
	overflow bool
}

// Events yields events in sequence order and is closed when the stream ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflowed reports whether the stream was ended because the subscriber fell behind.
func (s *Subscription) Overflowed() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.overflow
}

// Cancel detaches the subscriber. The producer is unaffected.
func (s *Subscription) Cancel() {
	s.t.mu.Lock()
	s.t.detach(s)
	s.t.mu.Unlock()
}

// End delivers a done event to this subscriber alone and detaches it. The
// event is not recorded and carries the current tail sequence.
func (s *Subscription) End(agent, message string) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if _, ok := s.t.subs[s]; !ok {
		return
	}
	select {
	case s.ch <- Event{SessionID: s.id, Sequence: s.t.seq, Agent: agent, Message: message, Status: Done, Time: time.Now()}:
	default:
	}
	s.t.detach(s)
}
