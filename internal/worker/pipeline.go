package worker

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// EnqueueStatus tells callers whether processing was scheduled. Enqueue never
// fails loudly: request paths keep working when the queue is down.
type EnqueueStatus struct {
	Accepted  bool   `json:"accepted"`
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EnqueueOptions customises a process_ticket job.
type EnqueueOptions struct {
	ThreadTS string
	Source   string
	Delay    time.Duration
}

// Pipeline is the producer side of the task queue.
type Pipeline struct {
	queue       Queue
	maxAttempts int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewPipeline builds the producer.
func NewPipeline(queue Queue, maxAttempts int, logger *zap.Logger, metrics *observability.Metrics) *Pipeline {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return &Pipeline{
		queue:       queue,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Enqueue schedules analysis and decision for a ticket.
func (p *Pipeline) Enqueue(ctx context.Context, ticketID string, opts EnqueueOptions) EnqueueStatus {
	now := p.now()
	payload := ProcessPayload{ThreadTS: opts.ThreadTS, Source: opts.Source}
	return p.push(ctx, KindProcessTicket, "", ticketID, payload, now.Add(opts.Delay), now)
}

// EnqueueFollowup schedules a follow-up check at eta. The job id is derived
// from the ticket and the job that decided on the follow-up, so a replayed
// decision finds the existing job instead of adding another.
func (p *Pipeline) EnqueueFollowup(ctx context.Context, ticketID, decisionJobID string, params any, eta time.Time) EnqueueStatus {
	id := ""
	if decisionJobID != "" {
		id = FollowupJobID(ticketID, decisionJobID)
	}
	return p.push(ctx, KindFollowupCheck, id, ticketID, params, eta, p.now())
}

// FollowupJobID names the follow-up job scheduled by one decision.
func FollowupJobID(ticketID, decisionJobID string) string {
	sum := blake2b.Sum256([]byte(ticketID + "\x00" + decisionJobID))
	return "followup-" + hex.EncodeToString(sum[:16])
}

func (p *Pipeline) push(ctx context.Context, kind Kind, id, ticketID string, payload any, eta, now time.Time) EnqueueStatus {
	if p == nil || p.queue == nil {
		return EnqueueStatus{Reason: "queue not configured"}
	}
	job, err := NewJob(kind, ticketID, payload, p.maxAttempts, eta, now)
	if err != nil {
		p.metrics.RecordEnqueue(string(kind), false)
		p.logger.Error("build job failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return EnqueueStatus{Reason: err.Error()}
	}
	if id != "" {
		job.ID = id
	}
	created, err := p.queue.Push(ctx, job, now)
	if err != nil {
		p.metrics.RecordEnqueue(string(kind), false)
		p.logger.Warn("queue unavailable",
			zap.String("ticket_id", ticketID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return EnqueueStatus{Reason: "queue unavailable: " + err.Error()}
	}
	if !created {
		p.logger.Info("job already enqueued",
			zap.String("job_id", job.ID),
			zap.String("ticket_id", ticketID),
			zap.String("kind", string(kind)))
		return EnqueueStatus{Accepted: true, JobID: job.ID, Duplicate: true}
	}
	p.metrics.RecordEnqueue(string(kind), true)
	p.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("ticket_id", ticketID),
		zap.String("kind", string(kind)),
		zap.Time("eta", job.ETA))
	return EnqueueStatus{Accepted: true, JobID: job.ID}
}
