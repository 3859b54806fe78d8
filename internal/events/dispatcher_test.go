package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishRunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewBus()
	var calls []string

	d.Subscribe(EventTicketResolved, func(ctx context.Context, e Event) error {
		calls = append(calls, "first")
		return errors.New("slack down")
	})
	d.Subscribe(EventTicketResolved, func(ctx context.Context, e Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTicketEscalated, func(ctx context.Context, e Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), New(EventTicketResolved, "t-1", Actor{}, nil, time.Now()))
	assert.ErrorContains(t, err, "slack down")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPublishWithoutListeners(t *testing.T) {
	d := NewBus()
	assert.NoError(t, d.Publish(context.Background(), New(EventKBArticleSynced, "t-1", Actor{}, nil, time.Now())))
}

func TestPublishRecoversPanickingSubscriber(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(EventTicketEscalated, func(ctx context.Context, e Event) error {
		panic("escalation template missing")
	})
	bus.Subscribe(EventTicketEscalated, func(ctx context.Context, e Event) error {
		delivered = true
		return nil
	})

	var err error
	assert.NotPanics(t, func() {
		err = bus.Publish(context.Background(), New(EventTicketEscalated, "t-2", Actor{}, nil, time.Now()))
	})
	assert.ErrorContains(t, err, "ticket_escalated subscriber 0: panic")
	assert.True(t, delivered)
}

func TestSubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	var calls int
	bus.Subscribe(EventTicketCreated, func(ctx context.Context, e Event) error {
		calls++
		bus.Subscribe(EventTicketCreated, func(context.Context, Event) error {
			calls++
			return nil
		})
		return nil
	})

	assert.NoError(t, bus.Publish(context.Background(), New(EventTicketCreated, "t-3", Actor{}, nil, time.Now())))
	assert.Equal(t, 1, calls, "handlers added mid-publish wait for the next event")
}
