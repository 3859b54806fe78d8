package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// NotificationService turns ticket events into chat messages for the ticket
// owner and the escalation channel.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifier   notify.Notifier
	users      repository.UserRepository
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifier notify.Notifier, users repository.UserRepository, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		notifier:   notifier,
		users:      users,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.ownerHandler(notify.KindResolved))
	n.dispatcher.Subscribe(events.EventClarificationRequested, n.ownerHandler(notify.KindClarification))
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.ownerHandler(notify.KindAssigned))
	n.dispatcher.Subscribe(events.EventSolutionProposed, n.ownerHandler(notify.KindSolutionProposed))
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.ownerHandler(notify.KindEscalated))
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleEscalationAlert)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return n.notifyOwner(ctx, payload.OwnerID, notify.Notification{
		TicketID:    event.TicketID,
		ExternalKey: payload.ExternalKey,
		Kind:        notify.KindTicketReceived,
		ThreadTS:    payload.ThreadTS,
		DedupKey:    dedupKey(event.TicketID, "created", string(notify.KindTicketReceived)),
	})
}

func (n *NotificationService) ownerHandler(kind notify.Kind) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.AgentActionPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", event.Payload)
		}
		return n.notifyOwner(ctx, payload.OwnerID, notify.Notification{
			TicketID:    event.TicketID,
			ExternalKey: payload.ExternalKey,
			Kind:        kind,
			Params:      payload.Params,
			ThreadTS:    payload.ThreadTS,
			DedupKey:    dedupKey(event.TicketID, payload.JobID, string(kind), payload.OwnerID),
		})
	}
}

func (n *NotificationService) handleEscalationAlert(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AgentActionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return n.NotifyChannel(ctx, notify.Notification{
		TicketID:    event.TicketID,
		ExternalKey: payload.ExternalKey,
		Kind:        notify.KindEscalationAlert,
		Params:      payload.Params,
		DedupKey:    dedupKey(event.TicketID, payload.JobID, string(notify.KindEscalationAlert), n.cfg.EscalationChannel),
	})
}

// NotifyChannel posts to the escalation channel.
func (n *NotificationService) NotifyChannel(ctx context.Context, msg notify.Notification) error {
	if n.cfg.EscalationChannel == "" {
		n.logger.Debug("escalation channel not configured", zap.String("ticket_id", msg.TicketID))
		return nil
	}
	msg.Channel = n.cfg.EscalationChannel
	return n.notifier.Notify(ctx, msg)
}

func (n *NotificationService) notifyOwner(ctx context.Context, ownerID string, msg notify.Notification) error {
	msg.UserID = ownerID
	user, err := n.users.GetByID(ctx, ownerID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		n.logger.Warn("notification owner missing", zap.String("ticket_id", msg.TicketID), zap.String("user_id", ownerID))
		return nil
	case err != nil:
		return fmt.Errorf("load owner: %w", err)
	}
	if user.SlackUserID == nil || *user.SlackUserID == "" {
		n.logger.Debug("owner has no chat account",
			zap.String("ticket_id", msg.TicketID),
			zap.String("kind", string(msg.Kind)))
		return nil
	}
	msg.SlackUserID = *user.SlackUserID
	return n.notifier.Notify(ctx, msg)
}
