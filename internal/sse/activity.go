// Package sse fans committed ticket lifecycle events out to dashboards
// subscribed to an event.
package sse

import (
	"context"
	"sync"

	"unievent-ticketing/internal/notify"
)

// clientBuffer is how many events a slow subscriber may lag behind before
// events are dropped for it.
const clientBuffer = 16

// ActivityEmitter manages subscribers keyed by event id.
type ActivityEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan notify.LifecycleEvent
}

func NewActivityEmitter() *ActivityEmitter {
	return &ActivityEmitter{clients: make(map[string][]chan notify.LifecycleEvent)}
}

// Subscribe registers a client for eventID. The channel is closed once ctx
// is done.
func (e *ActivityEmitter) Subscribe(ctx context.Context, eventID string) <-chan notify.LifecycleEvent {
	ch := make(chan notify.LifecycleEvent, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, ch)
	}()
	return ch
}

// Emit broadcasts ev to subscribers of its event without blocking.
func (e *ActivityEmitter) Emit(ev notify.LifecycleEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.clients[ev.EventID] {
		select {
		case ch <- ev:
		default:
			// buffer full, drop for this client
		}
	}
}

func (e *ActivityEmitter) remove(eventID string, ch chan notify.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, c := range clients {
		if c == ch {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of subscribers for eventID.
func (e *ActivityEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}

// SendNotification is a no-op; only lifecycle events are streamed.
func (e *ActivityEmitter) SendNotification(context.Context, notify.Notification) error { return nil }

func (e *ActivityEmitter) SendEmail(context.Context, notify.Email) error { return nil }

func (e *ActivityEmitter) PublishLifecycle(_ context.Context, ev notify.LifecycleEvent) error {
	e.Emit(ev)
	return nil
}
