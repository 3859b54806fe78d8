package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/agent"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

const (
	retryFailedAge  = time.Hour
	staleUrgentAge  = 2 * time.Hour
	staleEscalation = "Urgent ticket not updated in 2 hours"
	opsBatchLimit   = 500
)

// OpsStats summarises agent processing over a window.
type OpsStats struct {
	Days        int                         `json:"days" yaml:"days"`
	Total       int                         `json:"total" yaml:"total"`
	Processed   int                         `json:"processed" yaml:"processed"`
	Unprocessed int                         `json:"unprocessed" yaml:"unprocessed"`
	SuccessRate float64                     `json:"success_rate" yaml:"success_rate"`
	ByStatus    map[domain.TicketStatus]int `json:"by_status" yaml:"by_status"`
}

// RetryResult lists what retry-failed scheduled.
type RetryResult struct {
	TicketID string               `json:"ticket_id" yaml:"ticket_id"`
	Status   worker.EnqueueStatus `json:"status" yaml:"status"`
}

// OpsService backs the operations CLI.
type OpsService struct {
	tickets       repository.TicketRepository
	queue         worker.Queue
	pipeline      Enqueuer
	executor      *ActionExecutor
	notifications *NotificationService
	logger        *zap.Logger
	now           func() time.Time
}

// NewOpsService constructs the service.
func NewOpsService(tickets repository.TicketRepository, queue worker.Queue, pipeline Enqueuer, executor *ActionExecutor, notifications *NotificationService, logger *zap.Logger) *OpsService {
	return &OpsService{
		tickets:       tickets,
		queue:         queue,
		pipeline:      pipeline,
		executor:      executor,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the time source.
func (s *OpsService) WithClock(now func() time.Time) *OpsService {
	s.now = now
	return s
}

// QueueSnapshot lists ready, delayed, in-flight and dead jobs.
func (s *OpsService) QueueSnapshot(ctx context.Context, limit int) (worker.Snapshot, error) {
	return s.queue.Snapshot(ctx, limit)
}

// RetryFailed re-enqueues one ticket, or every unprocessed ticket untouched
// for an hour.
func (s *OpsService) RetryFailed(ctx context.Context, ticketID string) ([]RetryResult, error) {
	var ids []string
	if ticketID != "" {
		if _, err := getTicket(ctx, s.tickets, ticketID); err != nil {
			return nil, err
		}
		ids = []string{ticketID}
	} else {
		processed := false
		cutoff := s.now().Add(-retryFailedAge)
		tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
			Processed:     &processed,
			UpdatedBefore: &cutoff,
			Limit:         opsBatchLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, t := range tickets {
			if !t.Status.IsSettled() {
				ids = append(ids, t.ID)
			}
		}
	}

	results := make([]RetryResult, 0, len(ids))
	for _, id := range ids {
		status := s.pipeline.Enqueue(ctx, id, worker.EnqueueOptions{Source: "retry_failed"})
		results = append(results, RetryResult{TicketID: id, Status: status})
	}
	return results, nil
}

// RequeueJob moves a dead job back to the ready list.
func (s *OpsService) RequeueJob(ctx context.Context, jobID string) error {
	return s.queue.Requeue(ctx, jobID, s.now())
}

// Cleanup clears leftover analysis state of unprocessed tickets older than days.
func (s *OpsService) Cleanup(ctx context.Context, days int) (int, error) {
	processed := false
	cutoff := s.now().AddDate(0, 0, -days)
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Processed:     &processed,
		UpdatedBefore: &cutoff,
		Limit:         opsBatchLimit,
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tickets {
		if err := s.tickets.ResetAnalysis(ctx, t.ID); err != nil {
			return count, fmt.Errorf("reset %s: %w", t.ID, err)
		}
		count++
	}
	s.logger.Info("reset old unprocessed tickets", zap.Int("count", count), zap.Int("days", days))
	return count, nil
}

// Stats reports processing counts and the success rate over the last days.
func (s *OpsService) Stats(ctx context.Context, days int) (OpsStats, error) {
	raw, err := s.tickets.Stats(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return OpsStats{}, err
	}
	stats := OpsStats{
		Days:        days,
		Total:       raw.Total,
		Processed:   raw.Processed,
		Unprocessed: raw.Pending,
		ByStatus:    raw.ByStatus,
	}
	if raw.Total > 0 {
		stats.SuccessRate = float64(raw.Processed) / float64(raw.Total) * 100
	}
	return stats, nil
}

// EscalateStale finds open urgent tickets untouched for two hours, posts a
// digest to the escalation channel and, when apply is set, escalates them.
func (s *OpsService) EscalateStale(ctx context.Context, apply bool) ([]domain.Ticket, error) {
	cutoff := s.now().Add(-staleUrgentAge)
	candidates, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Statuses:      []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress},
		UpdatedBefore: &cutoff,
		Limit:         opsBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	var stale []domain.Ticket
	for _, t := range candidates {
		if isUrgent(t) {
			stale = append(stale, t)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	runID := fmt.Sprintf("stale-%d", s.now().Unix())
	keys := make([]string, 0, len(stale))
	for _, t := range stale {
		keys = append(keys, fmt.Sprintf("%s: %s (by %s)", t.ExternalKey, t.IssueType, t.UserID))
		if !apply {
			continue
		}
		decision := agent.NewDecision(agent.EscalateParams{
			Reason:   staleEscalation,
			Priority: string(domain.TicketPriorityHigh),
			Severity: string(t.Priority),
		})
		if err := s.executor.Execute(ctx, ExecuteRequest{TicketID: t.ID, JobID: runID, Decision: decision}); err != nil {
			s.logger.Error("escalate stale ticket failed", zap.String("ticket_id", t.ID), zap.Error(err))
		}
	}
	if s.notifications != nil {
		err := s.notifications.NotifyChannel(ctx, notify.Notification{
			Kind:     notify.KindStaleDigest,
			Params:   map[string]any{"tickets": keys},
			DedupKey: dedupKey(runID, string(notify.KindStaleDigest)),
		})
		if err != nil {
			s.logger.Warn("stale digest not delivered", zap.Error(err))
		}
	}
	return stale, nil
}

func isUrgent(t domain.Ticket) bool {
	if t.Priority == domain.TicketPriorityCritical {
		return true
	}
	return strings.Contains(strings.ToLower(t.IssueType), "urgent")
}
