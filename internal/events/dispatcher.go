package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// EventHandler reacts to one ticket event, typically by notifying someone.
type EventHandler func(context.Context, Event) error

// Dispatcher fans ticket events out to subscribers.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// Bus delivers events in-process, in subscription order, on the publisher's
// goroutine. Delivery is best effort: the ticket write that produced the
// event has already committed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]EventHandler)}
}

// Publish runs every handler for the event type. Failing or panicking
// handlers do not stop the rest; their errors come back joined.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := deliver(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s subscriber %d: %w", event.Type, i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe appends handler for eventType.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// copy on write so Publish can iterate without the lock
	next := make([]EventHandler, 0, len(b.handlers[eventType])+1)
	next = append(next, b.handlers[eventType]...)
	b.handlers[eventType] = append(next, handler)
}

func deliver(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, event)
}
