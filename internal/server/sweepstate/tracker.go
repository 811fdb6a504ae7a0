// Package sweepstate keeps reclaim bookkeeping in Redis: per-resource retry
// backoff, the dead-letter set of resources that exhausted their attempts,
// and short-lived per-resource locks.
package sweepstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	AttemptsKey   = "reclaim:attempts" // hash  resource id -> failed attempts
	DueKey        = "reclaim:due"      // zset  resource id -> next attempt (unix ms)
	DeadKey       = "reclaim:dead"     // set   resource ids given up on
	LockKeyPrefix = "reclaim:lock:"    // lock:<id> -> owner token
)

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

func lockKey(id int64) string {
	return LockKeyPrefix + member(id)
}

// Policy bounds reclaim retries.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	LockTTL     time.Duration
}

// Failure is the tracker's verdict after a failed attempt.
type Failure struct {
	Attempts     int
	NextAttempt  time.Time
	DeadLettered bool
}

type Tracker struct {
	rdb    redis.UniversalClient
	policy Policy
	now    func() time.Time
}

func NewTracker(rdb redis.UniversalClient, policy Policy) *Tracker {
	return &Tracker{rdb: rdb, policy: policy, now: time.Now}
}

// recordFailureScript increments the attempt counter and either schedules
// the next attempt with capped exponential backoff or dead-letters the id.
var recordFailureScript = redis.NewScript(`
	local attempts_key = KEYS[1]
	local due_key = KEYS[2]
	local dead_key = KEYS[3]

	local id = ARGV[1]
	local max_attempts = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])
	local base_ms = tonumber(ARGV[4])
	local cap_ms = tonumber(ARGV[5])

	local attempts = redis.call("HINCRBY", attempts_key, id, 1)

	if attempts >= max_attempts then
		redis.call("ZREM", due_key, id)
		local added = redis.call("SADD", dead_key, id)
		return {attempts, 0, added}
	end

	local delay = base_ms * math.pow(2, attempts - 1)
	if delay > cap_ms then
		delay = cap_ms
	end
	local next_ms = now_ms + delay
	redis.call("ZADD", due_key, next_ms, id)
	return {attempts, next_ms, -1}
`)

// Due reports whether a reclaim attempt for id may run now.
func (t *Tracker) Due(ctx context.Context, id int64) (bool, error) {
	dead, err := t.rdb.SIsMember(ctx, DeadKey, member(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: %w", err)
	}
	if dead {
		return false, nil
	}

	next, err := t.rdb.ZScore(ctx, DueKey, member(id)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: %w", err)
	}
	return int64(next) <= t.now().UnixMilli(), nil
}

// RecordFailure registers a failed attempt. DeadLettered is true only on the
// attempt that moved id into the dead-letter set, so callers alert once.
func (t *Tracker) RecordFailure(ctx context.Context, id int64) (Failure, error) {
	res, err := recordFailureScript.Run(ctx, t.rdb,
		[]string{AttemptsKey, DueKey, DeadKey},
		member(id), t.policy.MaxAttempts, t.now().UnixMilli(),
		t.policy.Base.Milliseconds(), t.policy.Max.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Failure{}, fmt.Errorf("redis: %w", err)
	}
	if len(res) != 3 {
		return Failure{}, fmt.Errorf("redis: unexpected script reply %v", res)
	}

	f := Failure{Attempts: int(res[0])}
	switch {
	case res[2] == 1:
		f.DeadLettered = true
	case res[2] == -1:
		f.NextAttempt = time.UnixMilli(res[1])
	}
	return f, nil
}

// Reset forgets all reclaim history of id, including dead-lettering.
func (t *Tracker) Reset(ctx context.Context, id int64) error {
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, AttemptsKey, member(id))
		p.ZRem(ctx, DueKey, member(id))
		p.SRem(ctx, DeadKey, member(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// DeadLettered lists resources that are no longer retried.
func (t *Tracker) DeadLettered(ctx context.Context) ([]int64, error) {
	ids, err := t.rdb.SMembers(ctx, DeadKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	out := make([]int64, 0, len(ids))
	for _, s := range ids {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

var releaseLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lock takes the per-resource reclaim lock. It returns common.ErrConflict
// when another holder has it. The returned release only deletes the lock if
// it is still ours.
func (t *Tracker) Lock(ctx context.Context, id int64) (func(context.Context) error, error) {
	token, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	ok, err := t.rdb.SetNX(ctx, lockKey(id), token, t.policy.LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if !ok {
		return nil, common.ErrConflict
	}
	return func(ctx context.Context) error {
		return releaseLockScript.Run(ctx, t.rdb, []string{lockKey(id)}, token).Err()
	}, nil
}

// Ping checks connectivity.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}
