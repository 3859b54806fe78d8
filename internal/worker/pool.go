package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// Handler runs one job. Returning an error wrapped with Permanent ends the job;
// any other error is retried while the attempt budget lasts.
type Handler func(ctx context.Context, job *Job) error

// PoolOptions tunes the worker pool.
type PoolOptions struct {
	Workers        int
	PollInterval   time.Duration
	Lease          time.Duration
	Retry          RetryPolicy
	SchedulerBatch int
}

// Pool is a fixed-size set of workers consuming a Queue, plus a scheduler
// loop that promotes due jobs and redelivers expired leases.
type Pool struct {
	queue    Queue
	handlers map[Kind]Handler
	opts     PoolOptions
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewPool creates a pool. Register handlers before calling Run.
func NewPool(queue Queue, opts PoolOptions, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.SchedulerBatch <= 0 {
		opts.SchedulerBatch = 100
	}
	return &Pool{
		queue:    queue,
		handlers: make(map[Kind]Handler),
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Handle registers the handler for a job kind.
func (p *Pool) Handle(kind Kind, h Handler) {
	p.handlers[kind] = h
}

// Run blocks until ctx is cancelled or a worker fails unrecoverably.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.schedule(ctx)
	})
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			return p.work(ctx, id)
		})
	}

	p.logger.Info("worker pool started", zap.Int("workers", p.opts.Workers))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		processed, err := p.ProcessOne(ctx)
		if err != nil {
			p.logger.Warn("worker cycle failed", zap.Int("worker", id), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) schedule(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil {
			p.logger.Warn("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick promotes delayed jobs that are due and redelivers expired leases.
func (p *Pool) Tick(ctx context.Context) error {
	now := p.now()
	promoted, err := p.queue.PromoteDue(ctx, now, p.opts.SchedulerBatch)
	if err != nil {
		return err
	}
	expired, err := p.queue.RequeueExpired(ctx, now, p.opts.SchedulerBatch)
	if err != nil {
		return err
	}
	if promoted > 0 || expired > 0 {
		p.logger.Debug("scheduler moved jobs", zap.Int("due", promoted), zap.Int("expired_leases", expired))
	}
	return nil
}

// ProcessOne claims and runs a single job. It reports whether a job was claimed.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx, p.now(), p.opts.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, p.execute(ctx, job)
}

func (p *Pool) execute(ctx context.Context, job *Job) error {
	logger := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("ticket_id", job.TicketID),
		zap.Int("attempt", job.Attempt),
	)

	// a redelivered job can arrive with its budget already spent
	if job.Attempt > p.maxAttempts(job) {
		return p.terminal(ctx, job, logger, fmt.Errorf("attempt budget exhausted before run"), 0)
	}

	handler, ok := p.handlers[job.Kind]
	if !ok {
		return p.terminal(ctx, job, logger, fmt.Errorf("no handler for job kind %q", job.Kind), 0)
	}

	ctx, span := observability.Tracer().Start(ctx, "job."+string(job.Kind))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("ticket.id", job.TicketID),
		attribute.Int("job.attempt", job.Attempt),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, p.opts.Lease)
	start := p.now()
	runErr := p.invoke(runCtx, handler, job)
	cancel()
	elapsed := p.now().Sub(start)

	if runErr == nil {
		span.SetStatus(codes.Ok, "")
		return p.succeed(ctx, job, logger, elapsed)
	}
	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	if IsPermanent(runErr) || p.opts.Retry.Exhausted(job.Attempt, job.MaxAttempts) {
		return p.terminal(ctx, job, logger, runErr, elapsed)
	}
	return p.retry(ctx, job, logger, runErr, elapsed)
}

func (p *Pool) invoke(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) succeed(ctx context.Context, job *Job, logger *zap.Logger, elapsed time.Duration) error {
	if err := p.transition(job, StateSucceeded, ""); err != nil {
		return err
	}
	if err := p.queue.Ack(ctx, job); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			logger.Warn("lease lost, result discarded", zap.Error(err))
			return nil
		}
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	p.metrics.RecordJob(string(job.Kind), string(StateSucceeded), elapsed)
	logger.Info("job succeeded", zap.Duration("duration", elapsed))
	return nil
}

func (p *Pool) retry(ctx context.Context, job *Job, logger *zap.Logger, cause error, elapsed time.Duration) error {
	if err := p.transition(job, StateFailedRetryable, cause.Error()); err != nil {
		return err
	}
	delay := p.opts.Retry.Backoff(job.Attempt)
	if err := p.queue.Retry(ctx, job, p.now().Add(delay)); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			logger.Warn("lease lost, result discarded", zap.Error(err))
			return nil
		}
		return fmt.Errorf("schedule retry of job %s: %w", job.ID, err)
	}
	p.metrics.RecordJob(string(job.Kind), string(StateFailedRetryable), elapsed)
	logger.Warn("job failed, retry scheduled", zap.Error(cause), zap.Duration("backoff", delay))
	return nil
}

func (p *Pool) terminal(ctx context.Context, job *Job, logger *zap.Logger, cause error, elapsed time.Duration) error {
	if err := p.transition(job, StateFailedTerminal, cause.Error()); err != nil {
		return err
	}
	if err := p.queue.Bury(ctx, job); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			logger.Warn("lease lost, result discarded", zap.Error(err))
			return nil
		}
		return fmt.Errorf("bury job %s: %w", job.ID, err)
	}
	p.metrics.RecordJob(string(job.Kind), string(StateFailedTerminal), elapsed)
	logger.Error("job failed permanently", zap.Error(cause))
	return nil
}

func (p *Pool) transition(job *Job, to State, lastErr string) error {
	if err := ValidateTransition(job.State, to); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.State = to
	job.UpdatedAt = p.now()
	job.LastError = lastErr
	return nil
}

func (p *Pool) maxAttempts(job *Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.opts.Retry.MaxAttempts
}
