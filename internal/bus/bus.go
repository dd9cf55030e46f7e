// Package bus fans out linking and account lifecycle events to subscribers
// (the WebSocket event stream and the operator notifier). Pairing UIs can
// follow a ceremony without polling, and the notifier never has to reach into
// the orchestrator.
package bus

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// EventType tags an Event.
type EventType string

const (
	// EventSessionStatus fires on every observable session transition,
	// including payload refreshes.
	EventSessionStatus EventType = "session.status"
	// EventAccountLinked fires when an authorized session commits an account.
	EventAccountLinked EventType = "account.linked"
	// EventAccountConnection fires when a linked account's live connection flips.
	EventAccountConnection EventType = "account.connection"
	// EventAccountToggled fires on the operator enable/disable toggle.
	EventAccountToggled EventType = "account.toggled"
	// EventAccountRevoked fires when an account is deleted.
	EventAccountRevoked EventType = "account.revoked"
)

// Event is one lifecycle notification.
type Event struct {
	Type     EventType         `json:"type"`
	TenantID string            `json:"tenant_id"`
	Channel  store.ChannelType `json:"channel"`

	// Session fields (EventSessionStatus).
	SessionID string              `json:"session_id,omitempty"`
	Status    store.SessionStatus `json:"status,omitempty"`

	// Account fields.
	AccountID   string `json:"account_id,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	IsConnected bool   `json:"is_connected,omitempty"`
	IsEnabled   bool   `json:"is_enabled,omitempty"`

	At time.Time `json:"at"`
}

// Handler receives events. Handlers must be non-blocking.
type Handler func(Event)

// EventBus broadcasts events to registered subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
}

func New() *EventBus {
	return &EventBus{subscribers: make(map[string]Handler)}
}

// Subscribe registers a handler under id. Re-subscribing replaces it.
func (b *EventBus) Subscribe(id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = h
}

// Unsubscribe removes a subscriber.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish stamps the event and delivers it to all subscribers.
func (b *EventBus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subscribers {
		h(ev)
	}
}
