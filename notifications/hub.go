package notifications

import (
	"sync"
	"time"

	"github.com/conductor-dev/conductor/log"
)

// EventType represents the type of push event
type EventType string

const (
	EventSessionState       EventType = "session-state"
	EventMessage            EventType = "message"
	EventChunk              EventType = "chunk"
	EventToolStart          EventType = "tool-start"
	EventToolComplete       EventType = "tool-complete"
	EventToolError          EventType = "tool-error"
	EventFileChange         EventType = "file-change"
	EventFileChangesDone    EventType = "file-changes-complete"
	EventUsageUpdate        EventType = "usage-update"
	EventStatus             EventType = "status"
	EventModeChanged        EventType = "mode-changed"
	EventBookmarkChanged    EventType = "bookmark-changed"
	EventQueueUpdated       EventType = "queue-updated"
	EventMessagesCleared    EventType = "messages-cleared"
	EventCancelled          EventType = "cancelled"
	EventError              EventType = "error"
	EventSessionListChanged EventType = "session-list-changed"
)

// Event is one push notification frame.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans events out to subscribers. A subscriber watches either one
// session or, with an empty id, every session.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers interest in one session's events (all sessions
// when sessionID is empty). Returns the event channel and an
// unsubscribe function; both are safe to use after Shutdown.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := h.subscribers[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subscribers[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subscribers[sessionID]; ok {
			if _, exists := set[ch]; exists {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subscribers, sessionID)
			}
		}
	}

	return ch, unsubscribe
}

// Notify delivers an event to the session's subscribers and to the
// all-sessions subscribers. Sends never block: a subscriber that has
// fallen behind misses the frame.
func (h *Hub) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(set map[chan Event]struct{}) {
		for ch := range set {
			select {
			case ch <- event:
			default:
				log.Warn().
					Str("session_id", event.SessionID).
					Str("event_type", string(event.Type)).
					Msg("subscriber buffer full, dropping event")
			}
		}
	}

	if set, ok := h.subscribers[event.SessionID]; ok {
		deliver(set)
	}
	if event.SessionID != "" {
		if set, ok := h.subscribers[""]; ok {
			deliver(set)
		}
	}
}

// SubscriberCount returns the number of subscribers for a session id.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Shutdown closes every subscriber channel.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subscribers {
		for ch := range set {
			close(ch)
		}
	}
	h.subscribers = make(map[string]map[chan Event]struct{})
}
