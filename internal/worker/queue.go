package worker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job record has expired or never existed.
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when a worker settles a job that was redelivered
	// to someone else after its lease ran out.
	ErrLeaseLost = errors.New("job lease lost")
)

// Snapshot lists queue contents for operators.
type Snapshot struct {
	Ready    []Job
	Delayed  []Job
	Inflight []Job
	Dead     []Job
}

// Queue is a durable job store with ready, delayed, in-flight and dead sets.
type Queue interface {
	// Push stores a job and makes it ready, or delayed if its ETA is in the future.
	// It reports false when a job with the same id already exists.
	Push(ctx context.Context, job *Job, now time.Time) (bool, error)
	// Claim pops the oldest ready job and leases it until now+lease. It returns nil when idle.
	Claim(ctx context.Context, now time.Time, lease time.Duration) (*Job, error)
	// Ack, Retry and Bury fail with ErrLeaseLost once the job was redelivered.
	Ack(ctx context.Context, job *Job) error
	// Retry releases the lease and schedules the job again at eta.
	Retry(ctx context.Context, job *Job, eta time.Time) error
	// Bury releases the lease and moves the job to the dead list.
	Bury(ctx context.Context, job *Job) error
	// PromoteDue moves delayed jobs whose ETA passed to the ready list.
	PromoteDue(ctx context.Context, now time.Time, limit int) (int, error)
	// RequeueExpired redelivers jobs whose lease ran out.
	RequeueExpired(ctx context.Context, now time.Time, limit int) (int, error)
	Get(ctx context.Context, id string) (*Job, error)
	Snapshot(ctx context.Context, limit int) (Snapshot, error)
	// Requeue moves a dead job back to the ready list with a fresh attempt budget.
	Requeue(ctx context.Context, id string, now time.Time) error
	Ping(ctx context.Context) error
}
