package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

const maxWriteAttempts = 3

// FollowupScheduler enqueues delayed follow-up checks.
type FollowupScheduler interface {
	EnqueueFollowup(ctx context.Context, ticketID, decisionJobID string, params any, eta time.Time) worker.EnqueueStatus
}

// ExecuteRequest carries one decision to apply. JobID scopes idempotency of
// every side effect; replays with the same JobID do not duplicate them.
type ExecuteRequest struct {
	TicketID string
	JobID    string
	ThreadTS string
	Decision agent.Decision
	// Claim leaves the ticket alone when a different job already decided it.
	Claim bool
	Actor events.Actor
}

type execution struct {
	ExecuteRequest
	ticket *domain.Ticket
	logger *zap.Logger
}

type actionHandler func(ctx context.Context, ex *execution) error

// ActionExecutor applies agent decisions to tickets.
type ActionExecutor struct {
	tickets      repository.TicketRepository
	interactions repository.TicketInteractionRepository
	solutions    repository.SolutionRepository
	knowledge    *KnowledgeService
	followups    FollowupScheduler
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
	handlers     map[agent.Action]actionHandler
}

// ExecutorDependencies bundles collaborators for the executor.
type ExecutorDependencies struct {
	TicketRepo      repository.TicketRepository
	InteractionRepo repository.TicketInteractionRepository
	SolutionRepo    repository.SolutionRepository
	Knowledge       *KnowledgeService
	Followups       FollowupScheduler
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	Now             func() time.Time
}

// NewActionExecutor wires the handler registry and fails if any action lacks a handler.
func NewActionExecutor(deps ExecutorDependencies) (*ActionExecutor, error) {
	e := &ActionExecutor{
		tickets:      deps.TicketRepo,
		interactions: deps.InteractionRepo,
		solutions:    deps.SolutionRepo,
		knowledge:    deps.Knowledge,
		followups:    deps.Followups,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		now:          deps.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.handlers = map[agent.Action]actionHandler{
		agent.ActionAutoResolve:          e.autoResolve,
		agent.ActionEscalate:             e.escalate,
		agent.ActionRequestClarification: e.requestClarification,
		agent.ActionAssignToTeam:         e.assignToTeam,
		agent.ActionScheduleFollowup:     e.scheduleFollowup,
		agent.ActionCreateKBArticle:      e.createKBArticle,
	}
	for _, action := range agent.AllActions() {
		if _, ok := e.handlers[action]; !ok {
			return nil, fmt.Errorf("no handler registered for action %q", action)
		}
	}
	return e, nil
}

// Execute dispatches the decision to its handler. Unknown actions are logged
// and ignored. Handler failures come back as *HandlerError.
func (e *ActionExecutor) Execute(ctx context.Context, req ExecuteRequest) error {
	logger := e.logger.With(
		zap.String("ticket_id", req.TicketID),
		zap.String("job_id", req.JobID),
		zap.String("action", string(req.Decision.Action)),
	)
	handler, ok := e.handlers[req.Decision.Action]
	if !ok {
		logger.Warn("unknown agent action ignored")
		return nil
	}
	if err := req.Decision.Validate(); err != nil {
		herr := &HandlerError{TicketID: req.TicketID, Action: req.Decision.Action, Err: worker.Permanent(err)}
		logger.Error("invalid decision", zap.Error(herr))
		return herr
	}
	if req.Actor.Type == "" {
		req.Actor = systemActor()
	}

	ctx, span := observability.Tracer().Start(ctx, "agent.execute")
	span.SetAttributes(
		attribute.String("ticket.id", req.TicketID),
		attribute.String("agent.action", string(req.Decision.Action)),
	)
	defer span.End()

	ticket, err := e.load(ctx, req.TicketID)
	if err != nil {
		return err
	}

	ex := &execution{ExecuteRequest: req, ticket: ticket, logger: logger}
	err = handler(ctx, ex)
	switch {
	case errors.Is(err, errDecisionTaken):
		logger.Info("ticket already decided by another job", zap.Stringp("decision_job_id", ex.ticket.DecisionJobID))
		return nil
	case errors.Is(err, errTicketResolved):
		logger.Info("ticket already resolved, action skipped")
		return nil
	case err != nil:
		span.RecordError(err)
		herr := &HandlerError{TicketID: req.TicketID, Action: req.Decision.Action, Err: err}
		logger.Error("agent action failed", zap.Error(herr))
		return herr
	}
	logger.Info("agent action applied", zap.String("status", string(ex.ticket.Status)))
	return nil
}

func (e *ActionExecutor) autoResolve(ctx context.Context, ex *execution) error {
	p := ex.Decision.Params.(agent.AutoResolveParams)
	err := e.update(ctx, ex, func(t *domain.Ticket) {
		now := e.now()
		summary := p.Reasoning
		if summary == "" {
			summary = "Resolved automatically by the support agent"
		}
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &now
		t.ResolutionSummary = &summary
	})
	if err != nil {
		return err
	}

	sol := &domain.Solution{
		ID:       uuid.NewString(),
		TicketID: ex.TicketID,
		Steps:    p.ResolutionSteps,
		Worked:   true,
	}
	if res := ex.ticket.AgentResponse; res != nil {
		confidence := res.Confidence
		sol.ConfidenceScore = &confidence
	}
	if err := e.solutions.Upsert(ctx, sol); err != nil {
		return fmt.Errorf("save solution: %w", err)
	}

	content := "Ticket auto-resolved. Steps: " + strings.Join(p.ResolutionSteps, "; ")
	if err := e.record(ctx, ex, domain.InteractionAutoResolve, content); err != nil {
		return err
	}
	e.emit(ctx, ex, events.EventTicketResolved)

	if e.knowledge != nil {
		if _, err := e.knowledge.SyncFromTicket(ctx, ex.TicketID, ex.JobID); err != nil {
			ex.logger.Warn("knowledge sync after auto-resolve failed", zap.Error(err))
		}
	}
	return nil
}

func (e *ActionExecutor) escalate(ctx context.Context, ex *execution) error {
	p := ex.Decision.Params.(agent.EscalateParams)
	err := e.update(ctx, ex, func(t *domain.Ticket) {
		now := e.now()
		t.Status = domain.TicketStatusEscalated
		t.Priority = domain.ParsePriority(p.Priority)
		t.EscalatedAt = &now
		if t.AssignedTeam == nil && p.SuggestedTeam != "" {
			team := p.SuggestedTeam
			t.AssignedTeam = &team
		}
	})
	if err != nil {
		return err
	}
	content := fmt.Sprintf("Escalated (%s priority): %s", p.Priority, p.Reason)
	if err := e.record(ctx, ex, domain.InteractionEscalation, content); err != nil {
		return err
	}
	e.emit(ctx, ex, events.EventTicketEscalated)
	return nil
}

func (e *ActionExecutor) requestClarification(ctx context.Context, ex *execution) error {
	p := ex.Decision.Params.(agent.ClarificationParams)
	err := e.update(ctx, ex, func(t *domain.Ticket) {
		t.Status = domain.TicketStatusPendingClarification
	})
	if err != nil {
		return err
	}
	if err := e.record(ctx, ex, domain.InteractionClarification, strings.Join(p.Questions, "\n")); err != nil {
		return err
	}
	e.emit(ctx, ex, events.EventClarificationRequested)
	return nil
}

func (e *ActionExecutor) assignToTeam(ctx context.Context, ex *execution) error {
	p := ex.Decision.Params.(agent.AssignParams)
	err := e.update(ctx, ex, func(t *domain.Ticket) {
		team := p.Team
		t.AssignedTeam = &team
		t.Priority = domain.ParsePriority(p.Priority)
		t.Status = domain.TicketStatusAssigned
	})
	if err != nil {
		return err
	}
	content := fmt.Sprintf("Assigned to %s: %s", p.Team, p.Reasoning)
	if err := e.record(ctx, ex, domain.InteractionAgentResponse, content); err != nil {
		return err
	}
	e.emit(ctx, ex, events.EventTicketAssigned)
	return nil
}

func (e *ActionExecutor) scheduleFollowup(ctx context.Context, ex *execution) error {
	p := ex.Decision.Params.(agent.FollowupParams)
	// status stays as is; the write only records which job decided
	if err := e.update(ctx, ex, func(*domain.Ticket) {}); err != nil {
		return err
	}
	if e.followups == nil {
		return errors.New("follow-up scheduler not configured")
	}
	status := e.followups.EnqueueFollowup(ctx, ex.TicketID, ex.JobID, p, p.FollowupTime)
	if !status.Accepted {
		return fmt.Errorf("schedule follow-up: %s", status.Reason)
	}
	content := fmt.Sprintf("Proposed solution, follow-up at %s: %s",
		p.FollowupTime.UTC().Format(time.RFC3339), strings.Join(p.SolutionSteps, "; "))
	if err := e.record(ctx, ex, domain.InteractionAgentResponse, content); err != nil {
		return err
	}
	e.emit(ctx, ex, events.EventSolutionProposed)
	ex.logger.Info("follow-up scheduled", zap.String("followup_job_id", status.JobID), zap.Time("eta", p.FollowupTime))
	return nil
}

func (e *ActionExecutor) createKBArticle(ctx context.Context, ex *execution) error {
	if e.knowledge == nil {
		ex.logger.Warn("knowledge base not configured")
		return nil
	}
	_, err := e.knowledge.SyncFromTicket(ctx, ex.TicketID, ex.JobID)
	if errors.Is(err, knowledge.ErrNotPublishable) {
		ex.logger.Warn("ticket not publishable to knowledge base", zap.String("status", string(ex.ticket.Status)))
		return nil
	}
	return err
}

// update applies mutate under the version token, reloading and re-applying on
// a stale write. A ticket already written by this job is left untouched so a
// replay only repeats the idempotent side effects.
func (e *ActionExecutor) update(ctx context.Context, ex *execution, mutate func(*domain.Ticket)) error {
	ticket := ex.ticket
	for attempt := 1; ; attempt++ {
		if ticket.DecisionJobID != nil && *ticket.DecisionJobID == ex.JobID {
			ex.ticket = ticket
			return nil
		}
		if ex.Claim && ticket.DecisionJobID != nil {
			ex.ticket = ticket
			return errDecisionTaken
		}
		if ticket.Status.IsResolved() {
			ex.ticket = ticket
			return errTicketResolved
		}

		mutate(ticket)
		jobID := ex.JobID
		ticket.DecisionJobID = &jobID

		err := e.tickets.Update(ctx, ticket)
		if err == nil {
			ex.ticket = ticket
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= maxWriteAttempts {
			return fmt.Errorf("update ticket: %w", err)
		}
		ex.logger.Debug("stale ticket write, reloading", zap.Int("attempt", attempt))
		if ticket, err = e.load(ctx, ex.TicketID); err != nil {
			return err
		}
	}
}

func (e *ActionExecutor) record(ctx context.Context, ex *execution, kind domain.InteractionKind, content string) error {
	key := dedupKey(ex.TicketID, ex.JobID, string(kind))
	created, err := e.interactions.Create(ctx, &domain.TicketInteraction{
		ID:       uuid.NewString(),
		TicketID: ex.TicketID,
		UserID:   ex.ticket.UserID,
		Kind:     kind,
		Content:  content,
		DedupKey: &key,
	})
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	if !created {
		ex.logger.Debug("interaction already recorded", zap.String("kind", string(kind)))
	}
	return nil
}

func (e *ActionExecutor) emit(ctx context.Context, ex *execution, eventType events.EventType) {
	payload := events.AgentActionPayload{
		OwnerID:     ex.ticket.UserID,
		ExternalKey: ex.ticket.ExternalKey,
		JobID:       ex.JobID,
		ThreadTS:    ex.ThreadTS,
		Action:      string(ex.Decision.Action),
		Params:      ex.Decision.ToMap(),
	}
	publish(ctx, e.dispatcher, ex.logger, events.New(eventType, ex.TicketID, ex.Actor, payload, e.now()))
}

func (e *ActionExecutor) load(ctx context.Context, id string) (*domain.Ticket, error) {
	return getTicket(ctx, e.tickets, id)
}
