package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: " Alice@Example.com ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleUser {
		t.Fatalf("expected role user, got %s", user.Role)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if len(user.ReferralCode) != 8 {
		t.Fatalf("expected 8 character referral code, got %q", user.ReferralCode)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID || authed.LastLogin == nil {
		t.Fatalf("unexpected authenticated user: %+v", authed)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Email: "alice@example.com", Password: "wrong password"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Email: "nobody@example.com", Password: "whatever1"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("unknown email should look like a bad password, got %v", err)
	}
}

func TestRegisterResolvesReferralCode(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	referrer, err := svc.Register(ctx, Credentials{Email: "ref@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register referrer: %v", err)
	}
	referred, err := svc.Register(ctx, Credentials{Email: "new@example.com", Password: "password1", ReferralCode: referrer.ReferralCode})
	if err != nil {
		t.Fatalf("register referred: %v", err)
	}
	if referred.ReferredBy != referrer.ID {
		t.Fatalf("expected referred by %s, got %q", referrer.ID, referred.ReferredBy)
	}

	if _, err := svc.Register(ctx, Credentials{Email: "x@example.com", Password: "password1", ReferralCode: "NOPE0000"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown code, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Email: "a@example.com", Password: "short"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "a@example.com", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "A@example.com", Password: "password1"}); !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}
