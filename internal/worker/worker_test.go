package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	mr       *miniredis.Miniredis
	queue    *RedisQueue
	pool     *Pool
	pipeline *Pipeline
	clock    *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	clock := newTestClock()
	queue := NewRedisQueue(client, "test:jobs", time.Hour)
	logger := zap.NewNop()
	pool := NewPool(queue, PoolOptions{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		Lease:        time.Minute,
		Retry:        RetryPolicy{MaxAttempts: 3, Base: time.Minute},
	}, logger, nil).WithClock(clock.Now)
	pipeline := NewPipeline(queue, 3, logger, nil).WithClock(clock.Now)

	return &harness{mr: mr, queue: queue, pool: pool, pipeline: pipeline, clock: clock}
}

func TestRetryBudgetEndsInTerminalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var calls int32
	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("analysis service returned 500")
	})

	status := h.pipeline.Enqueue(ctx, "ticket-1", EnqueueOptions{})
	require.True(t, status.Accepted)

	processed, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailedRetryable, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.True(t, h.clock.Now().Add(time.Minute).Equal(job.ETA))

	// not due yet
	require.NoError(t, h.pool.Tick(ctx))
	processed, err = h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.pool.Tick(ctx))
	job, err = h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)

	processed, err = h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	// second backoff doubles
	h.clock.Advance(119 * time.Second)
	require.NoError(t, h.pool.Tick(ctx))
	processed, _ = h.pool.ProcessOne(ctx)
	assert.False(t, processed)

	h.clock.Advance(time.Second)
	require.NoError(t, h.pool.Tick(ctx))
	processed, err = h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err = h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailedTerminal, job.State)
	assert.Equal(t, 3, job.Attempt)
	assert.Contains(t, job.LastError, "500")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snap.Dead, 1)
	assert.Empty(t, snap.Ready)
	assert.Empty(t, snap.Delayed)
	assert.Empty(t, snap.Inflight)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var calls int32
	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("ticket not found"))
	})

	status := h.pipeline.Enqueue(ctx, "gone", EnqueueOptions{})
	_, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailedTerminal, job.State)
	assert.EqualValues(t, 1, calls)
}

func TestSuccessfulJobIsAcked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var got ProcessPayload
	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		return job.Decode(&got)
	})

	status := h.pipeline.Enqueue(ctx, "t-1", EnqueueOptions{ThreadTS: "1700000000.0001", Source: "slack"})
	_, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, job.State)
	assert.Equal(t, "1700000000.0001", got.ThreadTS)
	assert.True(t, h.mr.TTL("test:jobs:job:"+status.JobID) > 0)

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Inflight)
}

func TestPanicIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		panic("boom")
	})

	status := h.pipeline.Enqueue(ctx, "t-2", EnqueueOptions{})
	_, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailedRetryable, job.State)
	assert.Contains(t, job.LastError, "boom")
}

func TestUnknownKindIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status := h.pipeline.Enqueue(ctx, "t-3", EnqueueOptions{})
	_, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailedTerminal, job.State)
}

func TestFollowupWaitsForETA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var fired int32
	h.pool.Handle(KindFollowupCheck, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	eta := h.clock.Now().Add(45 * time.Minute)
	status := h.pipeline.EnqueueFollowup(ctx, "t-4", "job-1", map[string]any{"auto_check": true}, eta)
	require.True(t, status.Accepted)

	require.NoError(t, h.pool.Tick(ctx))
	processed, _ := h.pool.ProcessOne(ctx)
	assert.False(t, processed)

	h.clock.Advance(45 * time.Minute)
	require.NoError(t, h.pool.Tick(ctx))
	processed, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.EqualValues(t, 1, fired)
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status := h.pipeline.Enqueue(ctx, "t-5", EnqueueOptions{})
	job, err := h.queue.Claim(ctx, h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StateRunning, job.State)

	// worker crashed; nothing acks
	h.clock.Advance(2 * time.Minute)
	n, err := h.queue.RequeueExpired(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := h.queue.Claim(ctx, h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, status.JobID, again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestFollowupEnqueueIsIdempotentPerDecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	eta := h.clock.Now().Add(35 * time.Minute)
	params := map[string]any{"auto_check": true}

	first := h.pipeline.EnqueueFollowup(ctx, "t-9", "job-1", params, eta)
	require.True(t, first.Accepted)
	assert.False(t, first.Duplicate)
	assert.Equal(t, FollowupJobID("t-9", "job-1"), first.JobID)

	h.clock.Advance(time.Minute)
	again := h.pipeline.EnqueueFollowup(ctx, "t-9", "job-1", params, eta.Add(time.Minute))
	require.True(t, again.Accepted)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.JobID, again.JobID)

	other := h.pipeline.EnqueueFollowup(ctx, "t-9", "job-2", params, eta)
	require.True(t, other.Accepted)
	assert.NotEqual(t, first.JobID, other.JobID)

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snap.Delayed, 2)

	job, err := h.queue.Get(ctx, first.JobID)
	require.NoError(t, err)
	assert.True(t, job.ETA.Equal(eta), "first schedule wins")
}

func TestStaleLeaseCannotSettleRedeliveredJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status := h.pipeline.Enqueue(ctx, "t-8", EnqueueOptions{})
	stale, err := h.queue.Claim(ctx, h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, stale)

	h.clock.Advance(2 * time.Minute)
	_, err = h.queue.RequeueExpired(ctx, h.clock.Now(), 10)
	require.NoError(t, err)

	// the slow worker finishes after its lease was revoked
	stale.State = StateSucceeded
	assert.ErrorIs(t, h.queue.Ack(ctx, stale), ErrLeaseLost)

	current, err := h.queue.Claim(ctx, h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, status.JobID, current.ID)
	assert.Greater(t, current.Lease, stale.Lease)

	stale.State = StateFailedTerminal
	assert.ErrorIs(t, h.queue.Bury(ctx, stale), ErrLeaseLost)
	stale.State = StateFailedRetryable
	assert.ErrorIs(t, h.queue.Retry(ctx, stale, h.clock.Now()), ErrLeaseLost)

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snap.Inflight, 1)
	assert.Empty(t, snap.Dead)
	assert.Empty(t, snap.Delayed)

	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, job.State)

	current.State = StateSucceeded
	require.NoError(t, h.queue.Ack(ctx, current))
	job, err = h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, job.State)
}

func TestPoolDiscardsResultAfterLeaseLoss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var redelivered *Job
	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		if redelivered != nil {
			return nil
		}
		// another worker takes over while this one is still running
		h.clock.Advance(2 * time.Minute)
		_, err := h.queue.RequeueExpired(ctx, h.clock.Now(), 10)
		require.NoError(t, err)
		redelivered, err = h.queue.Claim(ctx, h.clock.Now(), time.Minute)
		require.NoError(t, err)
		return errors.New("upstream timeout")
	})

	status := h.pipeline.Enqueue(ctx, "t-10", EnqueueOptions{})
	processed, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	require.NotNil(t, redelivered)

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Delayed, "stale retry must not reschedule the job")
	require.Len(t, snap.Inflight, 1)
	assert.Equal(t, status.JobID, snap.Inflight[0].ID)
}

func TestRequeueDeadJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		return Permanent(errors.New("nope"))
	})
	status := h.pipeline.Enqueue(ctx, "t-6", EnqueueOptions{})
	_, err := h.pool.ProcessOne(ctx)
	require.NoError(t, err)

	require.NoError(t, h.queue.Requeue(ctx, status.JobID, h.clock.Now()))
	job, err := h.queue.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)
	assert.Zero(t, job.Attempt)

	snap, err := h.queue.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Dead)
	assert.Len(t, snap.Ready, 1)

	assert.Error(t, h.queue.Requeue(ctx, status.JobID, h.clock.Now()))
}

func TestEnqueueReportsUnavailableQueue(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	status := h.pipeline.Enqueue(context.Background(), "t-7", EnqueueOptions{})
	assert.False(t, status.Accepted)
	assert.Empty(t, status.JobID)
	assert.Contains(t, status.Reason, "queue unavailable")
}

func TestPoolRunProcessesAndStops(t *testing.T) {
	h := newHarness(t)
	h.pool.WithClock(time.Now)
	h.pipeline.WithClock(time.Now)

	done := make(chan struct{})
	var once sync.Once
	h.pool.Handle(KindProcessTicket, func(ctx context.Context, job *Job) error {
		once.Do(func() { close(done) })
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.pool.Run(ctx) }()

	require.True(t, h.pipeline.Enqueue(ctx, "t-8", EnqueueOptions{}).Accepted)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Minute, p.Backoff(1))
	assert.Equal(t, 2*time.Minute, p.Backoff(2))
	assert.Equal(t, 4*time.Minute, p.Backoff(3))
	assert.False(t, p.Exhausted(2, 0))
	assert.True(t, p.Exhausted(3, 0))
	assert.True(t, p.Exhausted(1, 1))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateQueued, StateRunning))
	assert.NoError(t, ValidateTransition(StateFailedRetryable, StateQueued))
	assert.Error(t, ValidateTransition(StateSucceeded, StateRunning))
	assert.Error(t, ValidateTransition(StateQueued, StateSucceeded))
}
