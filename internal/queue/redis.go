package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 250 * time.Millisecond

// claimScript moves the oldest pending id to in-flight and stamps its claim
// time in one step, so no in-flight id is ever left without a timestamp.
var claimScript = redis.NewScript(`
local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if not id then return false end
redis.call('HSET', KEYS[3], id, ARGV[1])
return id
`)

// orphanScript returns in-flight ids that have no claim timestamp to pending.
var orphanScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  if redis.call('HEXISTS', KEYS[2], id) == 0 then
    redis.call('LREM', KEYS[1], 1, id)
    redis.call('RPUSH', KEYS[3], id)
    n = n + 1
  end
end
return n
`)

// RedisQueue stores envelopes in a hash and moves ids between a pending list
// and an in-flight list. Claims pop from the right, enqueues push on the left.
type RedisQueue struct {
	rdb           *redis.Client
	prefix        string
	maxDeliveries int
	pollInterval  time.Duration
	now           func() time.Time
}

var _ Distributor = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, maxDeliveries int) *RedisQueue {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &RedisQueue{
		rdb:           rdb,
		prefix:        "tutoreval:tasks",
		maxDeliveries: maxDeliveries,
		pollInterval:  defaultPollInterval,
		now:           time.Now,
	}
}

func (q *RedisQueue) keyEnvelopes() string { return q.prefix + ":envelopes" }
func (q *RedisQueue) keyPending() string   { return q.prefix + ":pending" }
func (q *RedisQueue) keyInflight() string  { return q.prefix + ":inflight" }
func (q *RedisQueue) keyClaimed() string   { return q.prefix + ":claimed" }
func (q *RedisQueue) keyDead() string      { return q.prefix + ":dead" }

func (q *RedisQueue) Enqueue(ctx context.Context, task models.Task, deadline time.Time) error {
	d := Delivery{ID: uuid.NewString(), Task: task, Deadline: deadline.UTC()}
	js, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keyEnvelopes(), d.ID, js)
	pipe.LPush(ctx, q.keyPending(), d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, workerID string, wait time.Duration) (*Delivery, error) {
	deadline := q.now().Add(wait)
	for {
		d, err := q.tryClaim(ctx, workerID)
		if err != nil || d != nil {
			return d, err
		}
		if !q.now().Before(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *RedisQueue) tryClaim(ctx context.Context, workerID string) (*Delivery, error) {
	for {
		now := q.now().UTC()
		id, err := claimScript.Run(ctx, q.rdb,
			[]string{q.keyPending(), q.keyInflight(), q.keyClaimed()},
			strconv.FormatInt(now.UnixMilli(), 10)).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim move: %w", err)
		}

		js, err := q.rdb.HGet(ctx, q.keyEnvelopes(), id).Result()
		if errors.Is(err, redis.Nil) {
			// Envelope gone; drop the orphan id and try the next one.
			pipe := q.rdb.TxPipeline()
			pipe.LRem(ctx, q.keyInflight(), 0, id)
			pipe.HDel(ctx, q.keyClaimed(), id)
			_, _ = pipe.Exec(ctx)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load task envelope: %w", err)
		}

		var d Delivery
		if err := json.Unmarshal([]byte(js), &d); err != nil {
			q.bury(ctx, id)
			continue
		}

		d.Attempt++
		d.ClaimedBy = workerID
		d.ClaimedAt = now
		updated, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode task envelope: %w", err)
		}
		if err := q.rdb.HSet(ctx, q.keyEnvelopes(), id, updated).Err(); err != nil {
			return nil, fmt.Errorf("mark task claimed: %w", err)
		}

		d.Expired = !d.Deadline.IsZero() && now.After(d.Deadline)
		return &d, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	removed, err := q.rdb.LRem(ctx, q.keyInflight(), 1, d.ID).Result()
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.keyEnvelopes(), d.ID)
	pipe.HDel(ctx, q.keyClaimed(), d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task cleanup: %w", err)
	}
	if removed == 0 {
		return ErrUnknownDelivery
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, d *Delivery) error {
	if d.Attempt >= q.maxDeliveries {
		q.bury(ctx, d.ID)
		return ErrMaxDeliveries
	}

	pipe := q.rdb.TxPipeline()
	rem := pipe.LRem(ctx, q.keyInflight(), 1, d.ID)
	pipe.HDel(ctx, q.keyClaimed(), d.ID)
	pipe.LPush(ctx, q.keyPending(), d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if rem.Val() == 0 {
		// Not in flight anymore (recovered or acked elsewhere); undo the push.
		_ = q.rdb.LRem(ctx, q.keyPending(), 1, d.ID).Err()
		return ErrUnknownDelivery
	}
	return nil
}

// bury moves an id from in-flight to the dead list and keeps its envelope for inspection.
func (q *RedisQueue) bury(ctx context.Context, id string) {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.keyInflight(), 1, id)
	pipe.HDel(ctx, q.keyClaimed(), id)
	pipe.LPush(ctx, q.keyDead(), id)
	_, _ = pipe.Exec(ctx)
}

// RecoverStale returns in-flight tasks claimed longer than olderThan ago to the
// front of the pending list, together with any in-flight id that lost its
// claim timestamp. Used to redeliver work from crashed workers.
func (q *RedisQueue) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	recovered, err := orphanScript.Run(ctx, q.rdb,
		[]string{q.keyInflight(), q.keyClaimed(), q.keyPending()}).Int()
	if err != nil {
		return 0, fmt.Errorf("recover unstamped tasks: %w", err)
	}

	claimed, err := q.rdb.HGetAll(ctx, q.keyClaimed()).Result()
	if err != nil {
		return recovered, fmt.Errorf("list claimed tasks: %w", err)
	}
	cutoff := q.now().Add(-olderThan).UnixMilli()

	for id, ts := range claimed {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || ms > cutoff {
			continue
		}
		n, err := q.rdb.LRem(ctx, q.keyInflight(), 1, id).Result()
		if err != nil {
			return recovered, fmt.Errorf("recover task: %w", err)
		}
		pipe := q.rdb.TxPipeline()
		pipe.HDel(ctx, q.keyClaimed(), id)
		if n > 0 {
			pipe.RPush(ctx, q.keyPending(), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("recover task: %w", err)
		}
		if n > 0 {
			recovered++
		}
	}
	return recovered, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctx, q.keyPending())
	inflight := pipe.LLen(ctx, q.keyInflight())
	dead := pipe.LLen(ctx, q.keyDead())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), InFlight: inflight.Val(), Dead: dead.Val()}, nil
}
