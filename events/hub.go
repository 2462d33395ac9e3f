// Package events fans out radio and remote-control events to websocket
// clients and the MQTT exporter.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind. It is also the last MQTT topic level.
type Type string

const (
	StateChange Type = "state"
	Command     Type = "command"
	DecodeError Type = "decode_error"
	PlayerError Type = "player_error"
	QueueDrop   Type = "queue_drop"
)

// Event is one published occurrence.
type Event struct {
	ID   string                 `json:"id"`
	Time time.Time              `json:"time"`
	Type Type                   `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func NewStateChange(from, to string) Event {
	return Event{Type: StateChange, Data: map[string]interface{}{"from": from, "to": to}}
}

func NewCommand(pipe int, command string, arg int8) Event {
	return Event{Type: Command, Data: map[string]interface{}{"pipe": pipe, "command": command, "arg": arg}}
}

func NewDecodeError(pipe int, frame []byte, err error) Event {
	return Event{Type: DecodeError, Data: map[string]interface{}{
		"pipe":  pipe,
		"frame": fmt.Sprintf("% X", frame),
		"error": err.Error(),
	}}
}

func NewPlayerError(pipe int, command string, err error) Event {
	return Event{Type: PlayerError, Data: map[string]interface{}{"pipe": pipe, "command": command, "error": err.Error()}}
}

func NewQueueDrop(pipe int, size int) Event {
	return Event{Type: QueueDrop, Data: map[string]interface{}{"pipe": pipe, "bytes": size}}
}

// DefaultBuffer is the subscription channel size used for buf <= 0.
const DefaultBuffer = 16

// Hub delivers every published event to all current subscribers. A
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	logger *slog.Logger

	published atomic.Uint64
	missed    atomic.Uint64
}

// Subscription receives events on C until it is closed.
type Subscription struct {
	ID string
	C  <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
}

// Publish stamps e with an ID and time when missing and hands it to every
// subscriber without blocking.
func (h *Hub) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return e
	}

	h.published.Add(1)
	for id, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.missed.Add(1)
			h.logger.Debug("Event subscriber too slow, event skipped", "subscriber", id, "type", string(e.Type))
		}
	}
	return e
}

// Subscribe registers a subscriber with a buffer of buf events.
func (h *Hub) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ch := make(chan Event, buf)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s.ID] = s
	return s
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s.ID]; ok {
			delete(h.subs, s.ID)
			close(s.ch)
		}
	})
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns the published and missed counters.
func (h *Hub) Stats() (published, missed uint64) {
	return h.published.Load(), h.missed.Load()
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
