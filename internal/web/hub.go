package web

import (
	"sync"

	"labstream/internal/render"
)

// subscriberBuffer is how many events a slow dashboard client may lag
// behind before it is switched to a full resync.
const subscriberBuffer = 64

// Event is one dashboard update.
type Event struct {
	Type string       `json:"type"`
	ID   string       `json:"id"`
	View *render.View `json:"view,omitempty"`
}

// Subscription is one client's view of the hub. Once an event could not be
// queued, Resync fires and the client must drop what it shows and reload
// every current view.
type Subscription struct {
	Events <-chan Event
	Resync <-chan struct{}

	events chan Event
	resync chan struct{}
}

// Hub fans renderer updates out to dashboard clients. It implements
// render.Sink and never blocks the renderer.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	dropped uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Publish broadcasts a view update.
func (h *Hub) Publish(view render.View) {
	h.broadcast(Event{Type: "view", ID: view.ID, View: &view})
}

// Retract broadcasts the removal of a view.
func (h *Hub) Retract(id string) {
	h.broadcast(Event{Type: "retract", ID: id})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			h.dropped++
			select {
			case sub.resync <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe registers a client. The returned cancel func must be called
// once the client goes away.
func (h *Hub) Subscribe() (*Subscription, func()) {
	events := make(chan Event, subscriberBuffer)
	resync := make(chan struct{}, 1)
	sub := &Subscription{Events: events, Resync: resync, events: events, resync: resync}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Drain discards queued events. Call it before a resync.
func (s *Subscription) Drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
