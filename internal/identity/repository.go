package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByReferralCode(ctx context.Context, code string) (User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	UpdateRole(ctx context.Context, id, role string) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectUser = `SELECT id, email, password_hash, role, referral_code, COALESCE(referred_by::text, ''),
        token_version, created_at, last_login FROM users`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	var referredBy *uuid.UUID
	if user.ReferredBy != "" {
		id, err := uuid.Parse(user.ReferredBy)
		if err != nil {
			return err
		}
		referredBy = &id
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, password_hash, role, referral_code, referred_by, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, user.Email, user.PasswordHash, user.Role, user.ReferralCode, referredBy, user.TokenVersion, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("email already registered: %w", apperr.ErrDuplicate)
	}
	return err
}

// FindByEmail fetches a user by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, selectUser+` WHERE email = $1`, email)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return r.findOne(ctx, selectUser+` WHERE id = $1`, userID)
}

// FindByReferralCode fetches the owner of a referral code.
func (r *PostgresRepository) FindByReferralCode(ctx context.Context, code string) (User, error) {
	return r.findOne(ctx, selectUser+` WHERE referral_code = $1`, code)
}

// UpdateTokenVersion stores a new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.update(ctx, `UPDATE users SET token_version = $1 WHERE id = $2`, id, version)
}

// UpdateRole changes the role of a user.
func (r *PostgresRepository) UpdateRole(ctx context.Context, id, role string) error {
	return r.update(ctx, `UPDATE users SET role = $1 WHERE id = $2`, id, role)
}

// TouchLogin records the last successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, id, at.UTC())
}

func (r *PostgresRepository) update(ctx context.Context, query, id string, value any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	cmd, err := r.db.Exec(ctx, query, value, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	row := r.db.QueryRow(ctx, query, arg)
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	err := row.Scan(&id, &user.Email, &user.PasswordHash, &user.Role, &user.ReferralCode, &user.ReferredBy,
		&user.TokenVersion, &createdAt, &user.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}
