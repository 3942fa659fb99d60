// Package realtime fans query progress out to the owner's live subscribers.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/kalambet/jurist/internal/storage"
)

// Kind is the event discriminator.
type Kind string

const (
	KindStatus    Kind = "status"
	KindCompleted Kind = "completed"
	KindError     Kind = "error"
)

// Event is one realtime notification. Exactly one of Status, Response or
// Error is set, matching Kind.
type Event struct {
	Kind     Kind            `json:"-"`
	QueryID  string          `json:"queryId"`
	Status   string          `json:"status,omitempty"`
	Response *storage.Answer `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func StatusEvent(queryID, message string) Event {
	return Event{Kind: KindStatus, QueryID: queryID, Status: "processing", Message: message}
}

func CompletedEvent(queryID string, answer storage.Answer) Event {
	return Event{Kind: KindCompleted, QueryID: queryID, Status: "completed", Response: &answer}
}

func ErrorEvent(queryID, message string) Event {
	return Event{Kind: KindError, QueryID: queryID, Error: message}
}

// Publisher delivers events to an owner.
type Publisher interface {
	Publish(ownerID string, ev Event)
}

const subscriberBuffer = 16

// Hub keeps per-owner subscriber channels. Delivery is at-most-once with no
// backlog: a subscriber that is absent or full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// Subscription receives events for one owner until cancelled.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	owner string
	hub   *Hub
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: slog.Default(),
	}
}

// Subscribe registers a new subscriber for ownerID.
func (h *Hub) Subscribe(ownerID string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, owner: ownerID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[ownerID] = set
	}
	set[s] = struct{}{}
	return s
}

// Cancel unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.owner]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.owner)
			}
		}
		close(s.ch)
	})
}

// Publish sends ev to every current subscriber of ownerID without blocking.
func (h *Hub) Publish(ownerID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[ownerID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Debug("realtime event dropped", "owner_id", ownerID, "query_id", ev.QueryID, "kind", ev.Kind)
		}
	}
}

// Subscribers returns the number of live subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}
