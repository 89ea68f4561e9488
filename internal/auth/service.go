package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/ratelimit"
)

// Lockout tracks consecutive login failures per email.
type Lockout interface {
	Check(ctx context.Context, subject string) (ratelimit.Decision, error)
	Fail(ctx context.Context, subject string) (ratelimit.Decision, error)
	Reset(ctx context.Context, subject string) error
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   string
}

// Service issues sessions.
type Service struct {
	ids     *identity.Service
	repo    identity.Repository
	signer  *Signer
	lockout Lockout
	logger  *slog.Logger
}

// NewService builds the auth service. lockout may be nil, which disables it.
func NewService(ids *identity.Service, repo identity.Repository, signer *Signer, lockout Lockout, logger *slog.Logger) *Service {
	return &Service{ids: ids, repo: repo, signer: signer, lockout: lockout, logger: logger}
}

// Login checks the lockout, verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, creds identity.Credentials) (TokenPair, identity.User, error) {
	subject := strings.ToLower(strings.TrimSpace(creds.Email))
	if s.lockout != nil {
		d, err := s.lockout.Check(ctx, subject)
		if err != nil {
			return TokenPair{}, identity.User{}, err
		}
		if !d.Allowed {
			return TokenPair{}, identity.User{}, fmt.Errorf("login locked for %s: %w", d.RetryAfter.Round(time.Second), apperr.ErrRateLimited)
		}
	}

	user, err := s.ids.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) && s.lockout != nil {
			if d, ferr := s.lockout.Fail(ctx, subject); ferr == nil && !d.Allowed {
				s.logger.Warn("login locked", slog.String("email", subject))
			}
		}
		return TokenPair{}, identity.User{}, err
	}
	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, subject); err != nil {
			s.logger.Warn("reset login failures", slog.String("error", err.Error()))
		}
	}

	pair, err := s.issue(user)
	if err != nil {
		return TokenPair{}, identity.User{}, err
	}
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.signer.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}
	return s.issue(user)
}

// Authorize validates an access token and returns the caller. The role is
// read from the user record so role changes apply immediately.
func (s *Service) Authorize(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.signer.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: user.ID, Role: user.Role}, nil
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) current(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return identity.User{}, ErrInvalidToken
		}
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, fmt.Errorf("token revoked: %w", apperr.ErrUnauthorized)
	}
	return user, nil
}

func (s *Service) issue(user identity.User) (TokenPair, error) {
	access, _, err := s.signer.sign(user.ID, user.Role, user.TokenVersion, tokenTypeAccess, s.signer.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.signer.sign(user.ID, "", user.TokenVersion, tokenTypeRefresh, s.signer.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.signer.accessTTL.Seconds())}, nil
}
