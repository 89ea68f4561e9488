package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/logging"
	"github.com/vcard-pay/vcard_pay/internal/ratelimit"
)

func setup(t *testing.T, lockout Lockout) (*Service, identity.User) {
	t.Helper()
	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo)
	user, err := ids.Register(context.Background(), identity.Credentials{Email: "user@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	signer := NewSigner("test-secret", time.Minute, time.Hour)
	return NewService(ids, repo, signer, lockout, logging.Discard()), user
}

func TestLoginAuthorizeAndLogout(t *testing.T) {
	svc, user := setup(t, nil)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Credentials{Email: "user@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	p, err := svc.Authorize(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if p.UserID != user.ID || p.Role != identity.RoleUser {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := svc.Authorize(ctx, pair.RefreshToken); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("refresh token must not authorize requests, got %v", err)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authorize(ctx, pair.AccessToken); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Credentials{Email: "user@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh should still work: %v", err)
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	svc, _ := setup(t, ratelimit.NewLockout(cache, "login", 5, 15*time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := svc.Login(ctx, identity.Credentials{Email: "user@example.com", Password: "wrong-password"})
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("attempt %d: expected unauthorized, got %v", i+1, err)
		}
	}
	if _, _, err := svc.Login(ctx, identity.Credentials{Email: "USER@example.com", Password: "password1"}); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected lockout even with correct password, got %v", err)
	}

	mr.FastForward(15*time.Minute + time.Second)
	if _, _, err := svc.Login(ctx, identity.Credentials{Email: "user@example.com", Password: "password1"}); err != nil {
		t.Fatalf("login after lockout expiry: %v", err)
	}
}
