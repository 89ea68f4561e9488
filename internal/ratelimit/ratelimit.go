package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:v1:"

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Tier blocks a subject for Block once it makes more than Limit attempts
// inside Window. A zero Block blocks for the rest of the window, counted from
// the oldest attempt in it.
type Tier struct {
	Limit  int
	Window time.Duration
	Block  time.Duration
}

// RechargeTiers is the escalating recharge submission policy.
var RechargeTiers = []Tier{
	{Limit: 2, Window: 5 * time.Minute},
	{Limit: 6, Window: 30 * time.Minute, Block: 30 * time.Minute},
	{Limit: 10, Window: 60 * time.Minute, Block: 60 * time.Minute},
}

// Throttle is an escalating sliding-window limiter. Attempts live in a Redis
// sorted set per subject so every instance shares the same counters.
type Throttle struct {
	cache *redis.Client
	name  string
	tiers []Tier
	now   func() time.Time
}

// NewThrottle builds a throttle named for its policy (used in keys).
func NewThrottle(cache *redis.Client, name string, tiers []Tier) *Throttle {
	return &Throttle{cache: cache, name: name, tiers: tiers, now: time.Now}
}

// Name returns the policy name.
func (t *Throttle) Name() string { return t.name }

// Allow records an attempt by subject unless it is currently blocked.
func (t *Throttle) Allow(ctx context.Context, subject string) (Decision, error) {
	blockKey := keyPrefix + t.name + ":block:" + subject
	attemptsKey := keyPrefix + t.name + ":attempts:" + subject

	ttl, err := t.cache.PTTL(ctx, blockKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("read block: %w", err)
	}
	if ttl > 0 {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	now := t.now()
	nowMs := now.UnixMilli()
	longest := t.longestWindow()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var counts []*redis.IntCmd
	_, err = t.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, attemptsKey, redis.Z{Score: float64(nowMs), Member: member})
		pipe.ZRemRangeByScore(ctx, attemptsKey, "-inf", "("+strconv.FormatInt(nowMs-longest.Milliseconds(), 10))
		for _, tier := range t.tiers {
			floor := strconv.FormatInt(nowMs-tier.Window.Milliseconds(), 10)
			counts = append(counts, pipe.ZCount(ctx, attemptsKey, "("+floor, "+inf"))
		}
		pipe.PExpire(ctx, attemptsKey, longest)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("record attempt: %w", err)
	}

	var block time.Duration
	for i, tier := range t.tiers {
		if int(counts[i].Val()) <= tier.Limit {
			continue
		}
		d := tier.Block
		if d == 0 {
			d, err = t.remainder(ctx, attemptsKey, now, tier.Window)
			if err != nil {
				return Decision{}, err
			}
		}
		if d > block {
			block = d
		}
	}
	if block <= 0 {
		return Decision{Allowed: true}, nil
	}
	// Rejected attempts do not count toward later windows.
	if err := t.cache.ZRem(ctx, attemptsKey, member).Err(); err != nil {
		return Decision{}, fmt.Errorf("drop rejected attempt: %w", err)
	}
	if err := t.cache.Set(ctx, blockKey, "1", block).Err(); err != nil {
		return Decision{}, fmt.Errorf("write block: %w", err)
	}
	return Decision{Allowed: false, RetryAfter: block}, nil
}

// remainder is the time until the oldest attempt inside window leaves it.
func (t *Throttle) remainder(ctx context.Context, key string, now time.Time, window time.Duration) (time.Duration, error) {
	floor := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	oldest, err := t.cache.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "(" + floor, Max: "+inf", Count: 1}).Result()
	if err != nil {
		return 0, fmt.Errorf("read oldest attempt: %w", err)
	}
	if len(oldest) == 0 {
		return window, nil
	}
	first := time.UnixMilli(int64(oldest[0].Score))
	d := first.Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d, nil
}

func (t *Throttle) longestWindow() time.Duration {
	var longest time.Duration
	for _, tier := range t.tiers {
		if tier.Window > longest {
			longest = tier.Window
		}
	}
	return longest
}
