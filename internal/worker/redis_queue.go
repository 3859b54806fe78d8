package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// pushScript stores a job unless a record with the same id already exists.
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'state', ARGV[2])
if ARGV[3] == 'delayed' then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
else
  redis.call('LPUSH', KEYS[3], ARGV[5])
end
return 1
`)

// claimScript pops one ready id, leases it and bumps its lease token.
var claimScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
local key = ARGV[2] .. id
if redis.call('EXISTS', key) == 0 then
  return {id, -1}
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local lease = redis.call('HINCRBY', key, 'lease', 1)
return {id, lease}
`)

// settleScript releases a lease only while ARGV[1] is still the current token.
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[1] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[1], 'data', ARGV[3], 'state', ARGV[4])
if ARGV[5] == 'ack' then
  local ttl = tonumber(ARGV[6])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
elseif ARGV[5] == 'retry' then
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[2])
else
  redis.call('LPUSH', KEYS[3], ARGV[2])
end
return 1
`)

// promoteScript moves ids scored at or below ARGV[1] from a zset to the ready list
// and flips their state back to QUEUED. With ARGV[4] set the lease token is
// bumped too, revoking the previous holder.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  local key = ARGV[3] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('HSET', key, 'state', 'QUEUED')
    if ARGV[4] == '1' then
      redis.call('HINCRBY', key, 'lease', 1)
    end
  end
end
return #ids
`)

// RedisQueue implements Queue on plain Redis data structures:
//
//	<prefix>:job:<id>  hash {data, state, lease}
//	<prefix>:ready     list, LPUSH in / RPOP out
//	<prefix>:delayed   zset scored by ETA (unix ms)
//	<prefix>:inflight  zset scored by lease deadline (unix ms)
//	<prefix>:dead      list of terminally failed ids
type RedisQueue struct {
	client       redis.UniversalClient
	prefix       string
	completedTTL time.Duration
}

// NewRedisQueue builds a queue under the given key prefix.
func NewRedisQueue(client redis.UniversalClient, prefix string, completedTTL time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "helpdesk:jobs"
	}
	return &RedisQueue{client: client, prefix: prefix, completedTTL: completedTTL}
}

func (q *RedisQueue) jobPrefix() string       { return q.prefix + ":job:" }
func (q *RedisQueue) jobKey(id string) string { return q.jobPrefix() + id }
func (q *RedisQueue) readyKey() string        { return q.prefix + ":ready" }
func (q *RedisQueue) delayedKey() string      { return q.prefix + ":delayed" }
func (q *RedisQueue) inflightKey() string     { return q.prefix + ":inflight" }
func (q *RedisQueue) deadKey() string         { return q.prefix + ":dead" }

// Push stores the job. It reports false without touching anything when a
// job with the same id already exists.
func (q *RedisQueue) Push(ctx context.Context, job *Job, now time.Time) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	target, at := "ready", int64(0)
	if job.ETA.After(now) {
		target, at = "delayed", job.ETA.UnixMilli()
	}
	created, err := pushScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.delayedKey(), q.readyKey()},
		data, string(job.State), target, at, job.ID,
	).Int()
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, lease time.Duration) (*Job, error) {
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.inflightKey()},
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10), q.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim job: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	token, _ := res[1].(int64)
	if id == "" || token < 0 {
		// record expired underneath the id; nothing was leased
		return nil, nil
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		// expired between the script and the read; drop the lease
		q.client.ZRem(ctx, q.inflightKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.Lease = token
	job.Attempt++
	job.State = StateRunning
	job.UpdatedAt = now
	if err := q.save(ctx, q.client, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Ack marks the job finished. It fails with ErrLeaseLost when the job was
// redelivered after this holder claimed it.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	return q.settle(ctx, job, "ack", q.delayedKey(), q.completedTTL.Milliseconds())
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, eta time.Time) error {
	job.ETA = eta
	return q.settle(ctx, job, "retry", q.delayedKey(), eta.UnixMilli())
}

func (q *RedisQueue) Bury(ctx context.Context, job *Job) error {
	return q.settle(ctx, job, "bury", q.deadKey(), 0)
}

func (q *RedisQueue) settle(ctx context.Context, job *Job, mode, target string, arg int64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := settleScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.inflightKey(), target},
		strconv.FormatInt(job.Lease, 10), job.ID, data, string(job.State), mode, arg,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: job %s lease %d", ErrLeaseLost, job.ID, job.Lease)
	}
	return nil
}

func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	return q.promote(ctx, q.delayedKey(), now, limit, false)
}

func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	return q.promote(ctx, q.inflightKey(), now, limit, true)
}

func (q *RedisQueue) promote(ctx context.Context, from string, now time.Time, limit int, revoke bool) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	bump := "0"
	if revoke {
		bump = "1"
	}
	n, err := promoteScript.Run(ctx, q.client,
		[]string{from, q.readyKey()},
		strconv.FormatInt(now.UnixMilli(), 10), limit, q.jobPrefix(), bump,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote from %s: %w", from, err)
	}
	return n, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	vals, err := q.client.HMGet(ctx, q.jobKey(id), "data", "state", "lease").Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if state, ok := vals[1].(string); ok && state != "" {
		job.State = State(state)
	}
	if lease, ok := vals[2].(string); ok {
		job.Lease, _ = strconv.ParseInt(lease, 10, 64)
	}
	return &job, nil
}

func (q *RedisQueue) Snapshot(ctx context.Context, limit int) (Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	stop := int64(limit - 1)
	var snap Snapshot

	ready, err := q.client.LRange(ctx, q.readyKey(), 0, stop).Result()
	if err != nil {
		return snap, err
	}
	delayed, err := q.client.ZRange(ctx, q.delayedKey(), 0, stop).Result()
	if err != nil {
		return snap, err
	}
	inflight, err := q.client.ZRange(ctx, q.inflightKey(), 0, stop).Result()
	if err != nil {
		return snap, err
	}
	dead, err := q.client.LRange(ctx, q.deadKey(), 0, stop).Result()
	if err != nil {
		return snap, err
	}

	if snap.Ready, err = q.load(ctx, ready); err != nil {
		return snap, err
	}
	if snap.Delayed, err = q.load(ctx, delayed); err != nil {
		return snap, err
	}
	if snap.Inflight, err = q.load(ctx, inflight); err != nil {
		return snap, err
	}
	if snap.Dead, err = q.load(ctx, dead); err != nil {
		return snap, err
	}
	return snap, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, id string, now time.Time) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateFailedTerminal {
		return fmt.Errorf("job %s is %s, only %s jobs can be requeued", id, job.State, StateFailedTerminal)
	}
	job.Attempt = 0
	job.State = StateQueued
	job.ETA = now
	job.UpdatedAt = now
	job.LastError = ""
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.deadKey(), 0, id)
		pipe.HSet(ctx, q.jobKey(id), "data", data, "state", string(job.State))
		pipe.LPush(ctx, q.readyKey(), id)
		return nil
	})
	return err
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) load(ctx context.Context, ids []string) ([]Job, error) {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (q *RedisQueue) save(ctx context.Context, c redis.Cmdable, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return c.HSet(ctx, q.jobKey(job.ID), "data", data, "state", string(job.State)).Err()
}
