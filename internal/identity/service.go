package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

const minPasswordLength = 8

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", apperr.ErrUnauthorized)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a user with a hashed password. A referral code, when
// given, must belong to an existing user.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("email is required: %w", apperr.ErrInvalidInput)
	}
	if len(creds.Password) < minPasswordLength {
		return User{}, fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, apperr.ErrInvalidInput)
	}

	var referredBy string
	if code := strings.ToUpper(strings.TrimSpace(creds.ReferralCode)); code != "" {
		referrer, err := s.repo.FindByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return User{}, fmt.Errorf("unknown referral code: %w", apperr.ErrInvalidInput)
			}
			return User{}, err
		}
		referredBy = referrer.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		ReferralCode: newReferralCode(),
		ReferredBy:   referredBy,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies an email and password.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	now := s.now()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err == nil {
		user.LastLogin = &now
	}
	return user, nil
}

// FindByID returns a user by id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// SetRole changes a user's role (admin only).
func (s *Service) SetRole(ctx context.Context, id, role string) error {
	switch role {
	case RoleUser, RoleAgent, RoleAdmin:
	default:
		return fmt.Errorf("role %q: %w", role, apperr.ErrInvalidInput)
	}
	return s.repo.UpdateRole(ctx, id, role)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
