package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct {
	mr  *miniredis.Miniredis
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.mr.FastForward(d)
}

func setup(t *testing.T) (*redis.Client, *clock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, &clock{mr: mr, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestThrottleBlocksThirdAttemptInFiveMinutes(t *testing.T) {
	cache, clk := setup(t)
	th := NewThrottle(cache, "recharge", RechargeTiers)
	th.now = clk.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := th.Allow(ctx, "u1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should pass", i+1)
		}
		clk.advance(time.Minute)
	}

	d, err := th.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("third attempt inside five minutes should be blocked")
	}
	if d.RetryAfter != 3*time.Minute {
		t.Fatalf("expected remainder of window 3m, got %s", d.RetryAfter)
	}

	other, err := th.Allow(ctx, "u2")
	if err != nil || !other.Allowed {
		t.Fatalf("other subject must not be blocked: %+v %v", other, err)
	}

	clk.advance(3*time.Minute + time.Second)
	d, err = th.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("block should have expired, got %+v", d)
	}
}

func TestThrottleEscalatesToThirtyMinutes(t *testing.T) {
	cache, clk := setup(t)
	th := NewThrottle(cache, "recharge", RechargeTiers)
	th.now = clk.Now
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			d, err := th.Allow(ctx, "u1")
			if err != nil {
				t.Fatalf("allow: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("round %d attempt %d should pass", round, i)
			}
		}
		clk.advance(5*time.Minute + time.Second)
	}

	d, err := th.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("seventh attempt in thirty minutes should be blocked")
	}
	if d.RetryAfter != 30*time.Minute {
		t.Fatalf("expected 30m block, got %s", d.RetryAfter)
	}

	clk.advance(10 * time.Minute)
	d, err = th.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter != 20*time.Minute {
		t.Fatalf("expected remaining 20m block, got %+v", d)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	cache, clk := setup(t)
	lo := NewLockout(cache, "login", 5, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := lo.Fail(ctx, "a@example.com")
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("failure %d should not lock", i+1)
		}
	}
	d, err := lo.Fail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if d.Allowed {
		t.Fatalf("fifth failure should lock")
	}

	d, err = lo.Check(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected locked subject")
	}

	clk.advance(15*time.Minute + time.Second)
	d, err = lo.Check(ctx, "a@example.com")
	if err != nil || !d.Allowed {
		t.Fatalf("lock should expire: %+v %v", d, err)
	}
}

func TestLockoutResetClearsStreak(t *testing.T) {
	cache, _ := setup(t)
	lo := NewLockout(cache, "login", 5, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := lo.Fail(ctx, "b@example.com"); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}
	if err := lo.Reset(ctx, "b@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	d, err := lo.Fail(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("streak should restart after a success")
	}
}
