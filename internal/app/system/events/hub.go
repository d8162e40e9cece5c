package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Upgrader is shared by the live endpoint. Origin checks are left to the
// CORS middleware in front of it.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber is one live connection and the scopes it listens to.
type Subscriber struct {
	AccountID string

	mu      sync.RWMutex
	scopes  map[string]bool
	send    chan []byte
	recheck chan struct{}
	closed  bool
}

// Wants reports whether the subscriber listens to scope.
func (s *Subscriber) Wants(scope string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes[scope]
}

// SetScopes replaces the subscriber's scopes.
func (s *Subscriber) SetScopes(scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		s.scopes[sc] = true
	}
}

// Scopes returns the subscriber's current scopes.
func (s *Subscriber) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scopes))
	for sc := range s.scopes {
		out = append(out, sc)
	}
	return out
}

// C returns the channel of encoded events.
func (s *Subscriber) C() <-chan []byte { return s.send }

// Hub fans events out to the subscribers of this process.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		metrics: m,
		log:     log,
	}
}

// Subscribe registers a subscriber for scopes.
func (h *Hub) Subscribe(accountID string, scopes []string) *Subscriber {
	s := &Subscriber{AccountID: accountID, send: make(chan []byte, sendBuffer), recheck: make(chan struct{}, 1)}
	s.SetScopes(scopes)
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.Subscribers(1)
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.mu.Unlock()
	h.metrics.Subscribers(-1)
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish encodes the event and delivers it to local subscribers.
func (h *Hub) Publish(_ context.Context, scope, name string, payload any) {
	data, err := json.Marshal(Event{Scope: scope, Name: name, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		h.log.Warn("encode event failed", zap.String("event", name), zap.Error(err))
		return
	}
	h.metrics.Event(name)
	h.deliver(scope, name, data)
}

// deliver sends data to every subscriber of scope without blocking. A
// subscriber whose buffer is full misses the event. Share changes also ask
// the subscriber to re-check the scopes it holds.
func (h *Hub) deliver(scope, name string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.Wants(scope) {
			continue
		}
		s.mu.RLock()
		if !s.closed {
			select {
			case s.send <- data:
			default:
				h.log.Debug("live subscriber lagging, event dropped",
					zap.String("account_id", s.AccountID),
					zap.String("scope", scope))
			}
			if name == ShareChanged {
				select {
				case s.recheck <- struct{}{}:
				default:
				}
			}
		}
		s.mu.RUnlock()
	}
}

// scopeMessage is what a client sends to change its scopes.
type scopeMessage struct {
	Scopes []string `json:"scopes"`
}

// Serve pumps events for s over conn until either side closes. authorize
// filters scope changes requested by the client; it returns the scopes the
// subscriber may have. It also runs over the current scopes after a share
// change reaches s, so revoked access stops the flow. Serve unsubscribes s
// before returning.
func (h *Hub) Serve(conn *websocket.Conn, s *Subscriber, authorize func([]string) []string) {
	defer h.Unsubscribe(s)
	defer conn.Close()

	var scopeMu sync.Mutex
	setScopes := func(requested func() []string) {
		if authorize == nil {
			return
		}
		scopeMu.Lock()
		defer scopeMu.Unlock()
		s.SetScopes(authorize(requested()))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg scopeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("live read error", zap.String("account_id", s.AccountID), zap.Error(err))
				}
				return
			}
			setScopes(func() []string { return msg.Scopes })
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.recheck:
			setScopes(s.Scopes)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
