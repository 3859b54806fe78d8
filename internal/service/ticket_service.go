package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// Enqueuer schedules ticket processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, ticketID string, opts worker.EnqueueOptions) worker.EnqueueStatus
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets      repository.TicketRepository
	users        repository.UserRepository
	interactions repository.TicketInteractionRepository
	solutions    repository.SolutionRepository
	pipeline     Enqueuer
	executor     *ActionExecutor
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo      repository.TicketRepository
	UserRepo        repository.UserRepository
	InteractionRepo repository.TicketInteractionRepository
	SolutionRepo    repository.SolutionRepository
	Pipeline        Enqueuer
	Executor        *ActionExecutor
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	IssueType     string
	Description   string
	Category      string
	Priority      string
	Tags          []string
	ScreenshotURL *string
	ThreadTS      string
	Source        string
}

// TicketDetail is a ticket with its audit trail and solution.
type TicketDetail struct {
	Ticket       *domain.Ticket
	Interactions []domain.TicketInteraction
	Solution     *domain.Solution
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:      deps.TicketRepo,
		users:        deps.UserRepo,
		interactions: deps.InteractionRepo,
		solutions:    deps.SolutionRepo,
		pipeline:     deps.Pipeline,
		executor:     deps.Executor,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		now:          time.Now,
	}
}

// CreateTicket stores a ticket and schedules its processing. A queue outage
// does not fail creation; the returned status says whether processing was
// scheduled.
func (s *TicketService) CreateTicket(ctx context.Context, userID string, input TicketCreateInput) (*domain.Ticket, worker.EnqueueStatus, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, worker.EnqueueStatus{}, err
	}
	ticket := &domain.Ticket{
		ID:            uuid.NewString(),
		ExternalKey:   generateTicketKey(),
		UserID:        userID,
		IssueType:     strings.TrimSpace(input.IssueType),
		Description:   strings.TrimSpace(input.Description),
		Category:      domain.ParseCategory(input.Category),
		Status:        domain.TicketStatusNew,
		Priority:      domain.ParsePriority(input.Priority),
		Tags:          input.Tags,
		ScreenshotURL: input.ScreenshotURL,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, worker.EnqueueStatus{}, err
	}
	s.publishEvent(ctx, events.New(events.EventTicketCreated, ticket.ID,
		events.Actor{Type: domain.SubjectTypeUser, UserID: &userID},
		events.TicketCreatedPayload{
			OwnerID:     userID,
			ExternalKey: ticket.ExternalKey,
			Category:    ticket.Category,
			Priority:    ticket.Priority,
			IssueType:   ticket.IssueType,
			ThreadTS:    input.ThreadTS,
		}, s.now()))

	status := s.pipeline.Enqueue(ctx, ticket.ID, worker.EnqueueOptions{ThreadTS: input.ThreadTS, Source: orSource(input.Source, "api")})
	if !status.Accepted {
		s.logger.Warn("ticket created without processing", zap.String("ticket_id", ticket.ID), zap.String("reason", status.Reason))
	}
	return ticket, status, nil
}

// GetTicket loads a ticket with interactions and solution.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*TicketDetail, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	interactions, err := s.interactions.ListByTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &TicketDetail{Ticket: ticket, Interactions: interactions}
	sol, err := s.solutions.GetByTicket(ctx, id)
	switch {
	case err == nil:
		detail.Solution = sol
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}
	return detail, nil
}

// ListTickets returns tickets matching the filter.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, filter)
}

// Reprocess schedules a new decision for the ticket. With reset the stored
// analysis is discarded so the analysis service is called again.
func (s *TicketService) Reprocess(ctx context.Context, id string, reset bool, threadTS, source string) (worker.EnqueueStatus, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return worker.EnqueueStatus{}, err
	}
	if ticket.Status.IsSettled() {
		return worker.EnqueueStatus{}, ErrTicketSettled
	}
	if reset {
		if err := s.tickets.ResetAnalysis(ctx, id); err != nil {
			return worker.EnqueueStatus{}, fmt.Errorf("reset analysis: %w", err)
		}
	} else if err := s.releaseDecision(ctx, ticket); err != nil {
		return worker.EnqueueStatus{}, err
	}
	status := s.pipeline.Enqueue(ctx, id, worker.EnqueueOptions{ThreadTS: threadTS, Source: orSource(source, "reprocess")})
	s.logger.Info("ticket reprocess requested",
		zap.String("ticket_id", id),
		zap.Bool("reset", reset),
		zap.Bool("accepted", status.Accepted))
	return status, nil
}

// AskAgain re-runs the agent from scratch, answering in the given chat thread.
func (s *TicketService) AskAgain(ctx context.Context, id, threadTS string) (worker.EnqueueStatus, error) {
	return s.Reprocess(ctx, id, true, threadTS, "ask_again")
}

// ForceAction applies an operator-chosen action using the stored analysis.
func (s *TicketService) ForceAction(ctx context.Context, id string, action agent.Action, actor events.Actor) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	decision, err := agent.Build(action, agent.InputFromAnalysis(ticket.AgentResponse), s.now())
	if err != nil {
		return nil, err
	}
	err = s.executor.Execute(ctx, ExecuteRequest{
		TicketID: id,
		JobID:    "manual-" + uuid.NewString(),
		Decision: decision,
		Actor:    actor,
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// releaseDecision clears the decision marker so the next job may decide again.
func (s *TicketService) releaseDecision(ctx context.Context, ticket *domain.Ticket) error {
	for attempt := 1; ticket.DecisionJobID != nil; attempt++ {
		ticket.DecisionJobID = nil
		err := s.tickets.Update(ctx, ticket)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= maxWriteAttempts {
			return fmt.Errorf("release decision: %w", err)
		}
		if ticket, err = s.load(ctx, ticket.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *TicketService) load(ctx context.Context, id string) (*domain.Ticket, error) {
	return getTicket(ctx, s.tickets, id)
}

// getTicket maps a missing row to ErrTicketNotFound.
func getTicket(ctx context.Context, tickets repository.TicketRepository, id string) (*domain.Ticket, error) {
	ticket, err := tickets.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticketNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return ticket, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, s.dispatcher, s.logger, event)
}

func generateTicketKey() string {
	return "HD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func orSource(source, fallback string) string {
	if source == "" {
		return fallback
	}
	return source
}
