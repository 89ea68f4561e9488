package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lockout locks a subject after MaxFailures consecutive failures.
type Lockout struct {
	cache       *redis.Client
	name        string
	maxFailures int64
	duration    time.Duration
}

// NewLockout builds a lockout policy. Login uses 5 failures / 15 minutes.
func NewLockout(cache *redis.Client, name string, maxFailures int, duration time.Duration) *Lockout {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &Lockout{cache: cache, name: name, maxFailures: int64(maxFailures), duration: duration}
}

func (l *Lockout) lockKey(subject string) string  { return keyPrefix + l.name + ":locked:" + subject }
func (l *Lockout) countKey(subject string) string { return keyPrefix + l.name + ":failures:" + subject }

// Check reports whether subject may attempt.
func (l *Lockout) Check(ctx context.Context, subject string) (Decision, error) {
	ttl, err := l.cache.PTTL(ctx, l.lockKey(subject)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("read lockout: %w", err)
	}
	if ttl > 0 {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

// Fail records a failure and locks subject once the limit is reached.
func (l *Lockout) Fail(ctx context.Context, subject string) (Decision, error) {
	key := l.countKey(subject)
	n, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("count failure: %w", err)
	}
	if n == 1 {
		l.cache.Expire(ctx, key, l.duration)
	}
	if n < l.maxFailures {
		return Decision{Allowed: true}, nil
	}
	if err := l.cache.Set(ctx, l.lockKey(subject), "1", l.duration).Err(); err != nil {
		return Decision{}, fmt.Errorf("write lockout: %w", err)
	}
	l.cache.Del(ctx, key)
	return Decision{Allowed: false, RetryAfter: l.duration}, nil
}

// Reset clears the failure streak after a success.
func (l *Lockout) Reset(ctx context.Context, subject string) error {
	return l.cache.Del(ctx, l.countKey(subject)).Err()
}
