// Package events fans approval notifications out to connected SSE
// clients, replacing client-side polling. Subscriptions are scoped to
// one company; a subscriber never sees another tenant's events.
package events

import (
	"sync"

	"buildledger/internal/log"
)

// Event is what an SSE client receives.
type Event struct {
	Kind      string `json:"kind"`
	RecordID  int64  `json:"recordId"`
	ProjectID int64  `json:"projectId"`
	Action    string `json:"action"`
}

// subscriberBuffer bounds how far behind a slow client may fall before
// it starts losing events.
const subscriberBuffer = 16

type subscriber struct {
	companyID int64
	ch        chan Event
}

// Hub is the in-process broadcast point. The API publishes after every
// finalized approval; each SSE handler holds one subscription.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger.WithComponent(log.ComponentEvents),
	}
}

// Subscribe registers a client for one company's events. The returned
// cancel func must be called when the client disconnects.
func (h *Hub) Subscribe(companyID int64) (<-chan Event, func()) {
	sub := &subscriber{companyID: companyID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber of the company. A
// subscriber with a full buffer is skipped rather than blocking the
// approval path.
func (h *Hub) Publish(companyID int64, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.companyID != companyID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				log.FieldCompanyID, companyID,
				log.FieldKind, event.Kind)
		}
	}
}

// SubscriberCount reports how many clients are connected for a company.
func (h *Hub) SubscriberCount(companyID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for sub := range h.subs {
		if sub.companyID == companyID {
			n++
		}
	}
	return n
}
