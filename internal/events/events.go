// Package events is the in-process event bus for security and lifecycle
// notifications.
//
// Emitters call Emit at the point where something happened (login, profile
// change, SSH connect, SFTP action); delivery to consumers is asynchronous
// and fire-and-forget. A slow or failing consumer never blocks or breaks the
// emitting operation — when the buffer is full the event is dropped with a
// log line.
//
// Consumers subscribe before Start; typical wiring registers the audit
// writer and the notification enqueuer.
package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// bufferSize bounds the queue between emitters and the fan-out loop.
const bufferSize = 256

// Event is one bus message. Details is free-form context; consumers must
// tolerate missing fields.
type Event struct {
	Type      Type           `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	Username  string         `json:"username,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Handler consumes one event. Handlers run on the bus goroutine and should
// hand off slow work (DB writes, network) rather than block the loop.
type Handler func(Event)

// Bus fans events out to subscribed handlers on a single goroutine.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	ch       chan Event
	started  bool
}

// New returns a bus ready for Subscribe calls. Events emitted before Start
// are buffered (up to bufferSize) and delivered once the loop runs.
func New() *Bus {
	return &Bus{ch: make(chan Event, bufferSize)}
}

// Subscribe registers a handler. Must be called before Start.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		log.Printf("[events] Subscribe after Start ignored")
		return
	}
	b.handlers = append(b.handlers, h)
}

// Start launches the fan-out loop. It returns immediately; the loop exits
// when ctx is cancelled, draining nothing further.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	handlers := b.handlers
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-b.ch:
				for _, h := range handlers {
					h(evt)
				}
			}
		}
	}()
}

// Emit enqueues an event without blocking. A zero Timestamp is stamped with
// the current time. Returns false when the buffer is full and the event was
// dropped.
func (b *Bus) Emit(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.ch <- evt:
		return true
	default:
		log.Printf("[events] buffer full, dropping %s", evt.Type)
		return false
	}
}
