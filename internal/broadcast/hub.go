// Package broadcast fans out batch progress events to live observers with
// best-effort delivery. A slow or broken observer is dropped from the set;
// it never blocks or fails the batch runner.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"
)

// Observer is one live subscriber to progress events. Send must return an
// error when the observer can no longer accept events; the hub then removes
// and closes it.
type Observer interface {
	Send(Event) error
	Close() error
}

// Hub owns the observer set. The runner publishes events through a bounded
// channel; the hub goroutine drains it and fans out, so the runner never
// touches observer connections directly.
type Hub struct {
	mu        sync.Mutex
	observers map[Observer]struct{}

	events    chan Event
	heartbeat time.Duration
}

func NewHub(buffer int, heartbeat time.Duration) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		observers: make(map[Observer]struct{}),
		events:    make(chan Event, buffer),
		heartbeat: heartbeat,
	}
}

// Register adds an observer. New observers receive no replay of past events;
// clients fetch current state through the batch stats query instead.
func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[o] = struct{}{}
}

// Unregister removes an observer without closing it.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, o)
}

// ObserverCount returns the number of registered observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Publish enqueues an event for delivery. It never blocks the caller: when
// the buffer is full the event is dropped, since observers can recover the
// current state from the stats endpoint at any time.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		log.Printf("Broadcast buffer full, dropping %s event for batch %s", event.Type, event.BatchID)
	}
}

// Broadcast delivers an event to every registered observer. An observer
// whose Send fails is removed from the set and closed; delivery continues
// to the rest and no error reaches the caller.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []Observer
	for o := range h.observers {
		if err := o.Send(event); err != nil {
			dead = append(dead, o)
		}
	}
	for _, o := range dead {
		delete(h.observers, o)
		_ = o.Close()
		log.Printf("Removed broken observer (%d remaining)", len(h.observers))
	}
}

// Run drains the publish channel and sends periodic heartbeats until ctx is
// cancelled. Heartbeats double as liveness probes: a dead connection fails
// its Send and gets pruned.
func (h *Hub) Run(ctx context.Context) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker = time.NewTicker(h.heartbeat)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.events:
			h.Broadcast(event)
		case <-tick:
			h.Broadcast(Event{Type: EventHeartbeat})
		}
	}
}
