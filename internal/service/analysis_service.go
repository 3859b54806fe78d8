package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/helpdesk-service/internal/analysis"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// AnalysisService obtains the analysis of a ticket at most once. Concurrent
// calls for one ticket inside a process share a single request; across
// processes the stored result is guarded by a compare-and-set.
type AnalysisService struct {
	tickets  repository.TicketRepository
	users    repository.UserRepository
	analyzer analysis.Analyzer
	logger   *zap.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// NewAnalysisService constructs the service.
func NewAnalysisService(tickets repository.TicketRepository, users repository.UserRepository, analyzer analysis.Analyzer, logger *zap.Logger, metrics *observability.Metrics) *AnalysisService {
	return &AnalysisService{
		tickets:  tickets,
		users:    users,
		analyzer: analyzer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Analyze returns the stored analysis when the ticket is already processed,
// otherwise calls the analyzer and stores the result. When another worker
// stores first, its result is returned instead of ours.
func (s *AnalysisService) Analyze(ctx context.Context, ticketID string) (*domain.AnalysisResult, error) {
	v, err, _ := s.group.Do(ticketID, func() (any, error) {
		return s.analyze(ctx, ticketID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AnalysisResult), nil
}

func (s *AnalysisService) analyze(ctx context.Context, ticketID string) (*domain.AnalysisResult, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.AgentProcessed {
		s.metrics.RecordAnalysis("cached")
		return ticket.AgentResponse, nil
	}

	user, err := s.users.GetByID(ctx, ticket.UserID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load ticket owner: %w", err)
		}
		s.logger.Warn("ticket owner missing", zap.String("ticket_id", ticketID), zap.String("user_id", ticket.UserID))
	}

	result, err := s.analyzer.Analyze(ctx, analysis.NewRequest(ticket, user))
	if err != nil {
		s.metrics.RecordAnalysis("error")
		return nil, err
	}

	won, err := s.tickets.SaveAnalysis(ctx, ticketID, result)
	if err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	if won {
		s.metrics.RecordAnalysis("stored")
		s.logger.Info("analysis stored",
			zap.String("ticket_id", ticketID),
			zap.Float64("confidence", result.Confidence),
			zap.String("recommended_action", result.RecommendedAction))
		return result, nil
	}

	s.metrics.RecordAnalysis("lost_race")
	stored, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("analysis already stored by another worker", zap.String("ticket_id", ticketID))
	return stored.AgentResponse, nil
}

func (s *AnalysisService) loadTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	return getTicket(ctx, s.tickets, id)
}
