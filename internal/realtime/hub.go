// Package realtime fans chat events out to websocket subscribers. Delivery
// is best effort: a slow subscriber loses its oldest queued events rather
// than slowing the pipeline down.
package realtime

import (
	"log/slog"
	"sync"

	"benchchat/internal/domain"
)

// EventType identifies what a realtime event carries.
type EventType string

const (
	// EventMessageAdded announces a message appended to the session log.
	EventMessageAdded EventType = "message_added"
	// EventTypingChanged signals the assistant starting or stopping work.
	EventTypingChanged EventType = "typing_changed"
	// EventExecutionResult announces the outcome of a command execution.
	EventExecutionResult EventType = "execution_result"
)

// ExecutionResult is the payload of an EventExecutionResult.
type ExecutionResult struct {
	MessageID  string `json:"message_id"`
	Command    string `json:"command"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Event is one realtime notification scoped to a session.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id"`
	Message   *domain.Message  `json:"message,omitempty"`
	Typing    bool             `json:"typing,omitempty"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// subscriberQueueSize bounds each subscriber's backlog. When the queue is
// full the oldest queued event is dropped to make room for the newest.
const subscriberQueueSize = 32

// Subscriber receives events for one session over a bounded channel.
type Subscriber struct {
	id int64
	ch chan Event
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription is cancelled.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Hub routes events to per-session subscriber sets.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string]map[int64]*Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]*Subscriber)}
}

// Subscribe registers a subscriber for one session's events. The returned
// cancel func must be called exactly once; it closes the event channel.
func (h *Hub) Subscribe(sessionID string) (*Subscriber, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{id: h.nextID, ch: make(chan Event, subscriberQueueSize)}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int64]*Subscriber)
	}
	h.subs[sessionID][sub.id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[sessionID]; ok {
			if _, ok := set[sub.id]; ok {
				delete(set, sub.id)
				close(sub.ch)
			}
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return sub, cancel
}

// Publish delivers an event to every subscriber of its session. It never
// blocks: when a subscriber's queue is full, its oldest queued event is
// dropped in favor of the new one.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[evt.SessionID] {
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		// Queue full: drop the oldest, then try once more.
		select {
		case <-sub.ch:
			slog.Debug("realtime subscriber lagging, dropped oldest event",
				"session_id", evt.SessionID, "subscriber", sub.id)
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
