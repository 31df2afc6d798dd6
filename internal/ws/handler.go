package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Streamer opens a session's log subscription.
type Streamer interface {
	StreamLogs(id string) (*logbus.Subscription, bool, error)
}

// HandlerConfig holds the stream source and the subscriber cap.
type HandlerConfig struct {
	Streamer      Streamer
	MaxConcurrent int
	// OnError writes the HTTP error for a failed subscription before upgrade.
	OnError func(w http.ResponseWriter, err error)
}

// Handler streams session log events over WebSocket with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with the given stream source and concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 256
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, err error) { http.Error(w, err.Error(), http.StatusInternalServerError) }
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// Admit claims a stream slot. Every log stream, WebSocket or SSE, shares the cap.
func (h *Handler) Admit() (release func(), ok bool) {
	select {
	case h.sem <- struct{}{}:
		return func() { <-h.sem }, true
	default:
		return nil, false
	}
}

// ServeHTTP upgrades the connection and relays events until the stream ends.
// Returns 503 if at max concurrent stream capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	release, ok := h.Admit()
	if !ok {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}
	defer release()

	id := chi.URLParam(r, "id")
	sub, _, err := h.cfg.Streamer.StreamLogs(id)
	if err != nil {
		h.cfg.OnError(w, err)
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("log stream opened", "session", id, "transport", "ws")
	closed := readUntilClose(conn)
	relay(conn, sub, closed)
	slog.Info("log stream closed", "session", id, "transport", "ws", "overflow", sub.Overflowed())
}

// readUntilClose drains client frames; the returned channel closes when the
// client goes away.
func readUntilClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

func relay(conn *websocket.Conn, sub *logbus.Subscription, closed <-chan struct{}) {
	send := newEventSender(conn)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := send.control(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				_ = send.control(websocket.CloseMessage, msg)
				return
			}
			if err := send.event(ev); err != nil {
				slog.Warn("write event", "error", err)
				return
			}
		}
	}
}

type eventSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newEventSender(conn *websocket.Conn) *eventSender {
	return &eventSender{conn: conn}
}

func (s *eventSender) event(ev logbus.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *eventSender) control(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(kind, data, time.Now().Add(writeWait))
}
