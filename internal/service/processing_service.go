package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// ProcessingService holds the job handlers of the task pipeline.
type ProcessingService struct {
	tickets  repository.TicketRepository
	analysis *AnalysisService
	executor *ActionExecutor
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewProcessingService constructs the service.
func NewProcessingService(tickets repository.TicketRepository, analysis *AnalysisService, executor *ActionExecutor, logger *zap.Logger, metrics *observability.Metrics) *ProcessingService {
	return &ProcessingService{
		tickets:  tickets,
		analysis: analysis,
		executor: executor,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock overrides the time source used for decisions.
func (s *ProcessingService) WithClock(now func() time.Time) *ProcessingService {
	s.now = now
	return s
}

// Register binds the handlers to a worker pool.
func (s *ProcessingService) Register(pool *worker.Pool) {
	pool.Handle(worker.KindProcessTicket, s.HandleProcessTicket)
	pool.Handle(worker.KindFollowupCheck, s.HandleFollowup)
}

// HandleProcessTicket analyses a ticket, decides and applies the action.
// Tickets that are settled or already decided by another job are skipped.
func (s *ProcessingService) HandleProcessTicket(ctx context.Context, job *worker.Job) error {
	var payload worker.ProcessPayload
	if err := job.Decode(&payload); err != nil {
		return worker.Permanent(fmt.Errorf("decode payload: %w", err))
	}
	logger := s.logger.With(zap.String("ticket_id", job.TicketID), zap.String("job_id", job.ID))

	ticket, err := s.load(ctx, job.TicketID)
	if err != nil {
		return terminalIfMissing(err)
	}
	if !decidedBy(ticket, job.ID) {
		if ticket.DecisionJobID != nil {
			logger.Info("ticket already decided, skipping", zap.String("decision_job_id", *ticket.DecisionJobID))
			return nil
		}
		if ticket.Status.IsSettled() {
			logger.Info("ticket settled, skipping", zap.String("status", string(ticket.Status)))
			return nil
		}
	}

	result, err := s.analysis.Analyze(ctx, ticket.ID)
	if err != nil {
		return terminalIfMissing(err)
	}

	decision := agent.Decide(agent.InputFromAnalysis(result), s.now())
	s.metrics.RecordDecision(string(decision.Action))
	logger.Info("agent decision", zap.String("action", string(decision.Action)))

	return terminalIfMissing(s.executor.Execute(ctx, ExecuteRequest{
		TicketID: ticket.ID,
		JobID:    job.ID,
		ThreadTS: payload.ThreadTS,
		Decision: decision,
		Claim:    true,
	}))
}

// HandleFollowup escalates a ticket whose proposed solution did not resolve
// it in time. The decision engine is bypassed.
func (s *ProcessingService) HandleFollowup(ctx context.Context, job *worker.Job) error {
	logger := s.logger.With(zap.String("ticket_id", job.TicketID), zap.String("job_id", job.ID))

	ticket, err := s.load(ctx, job.TicketID)
	if err != nil {
		return terminalIfMissing(err)
	}
	if !decidedBy(ticket, job.ID) && ticket.Status.IsSettled() {
		logger.Info("follow-up not needed", zap.String("status", string(ticket.Status)))
		return nil
	}

	decision := agent.FollowupEscalation(agent.InputFromAnalysis(ticket.AgentResponse))
	s.metrics.RecordDecision(string(decision.Action))
	return terminalIfMissing(s.executor.Execute(ctx, ExecuteRequest{
		TicketID: ticket.ID,
		JobID:    job.ID,
		Decision: decision,
	}))
}

func (s *ProcessingService) load(ctx context.Context, id string) (*domain.Ticket, error) {
	return getTicket(ctx, s.tickets, id)
}

func decidedBy(t *domain.Ticket, jobID string) bool {
	return t.DecisionJobID != nil && *t.DecisionJobID == jobID
}

func terminalIfMissing(err error) error {
	if errors.Is(err, ErrTicketNotFound) {
		return worker.Permanent(err)
	}
	return err
}
