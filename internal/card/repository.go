package card

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Repository persists cards.
type Repository interface {
	Create(ctx context.Context, card Card) error
	Get(ctx context.Context, id string) (Card, error)
	ListByUser(ctx context.Context, userID string) ([]Card, error)
	Update(ctx context.Context, card Card) error
	Delete(ctx context.Context, id string) error
}

type memoryRepository struct {
	mu    sync.RWMutex
	cards map[string]Card
}

// NewMemoryRepository builds an in-memory card store.
func NewMemoryRepository() Repository {
	return &memoryRepository{cards: make(map[string]Card)}
}

func (r *memoryRepository) Create(_ context.Context, card Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cards[card.ID]; exists {
		return fmt.Errorf("card %s: %w", card.ID, apperr.ErrDuplicate)
	}
	r.cards[card.ID] = card
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %s: %w", id, apperr.ErrNotFound)
	}
	return card, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Card
	for _, card := range r.cards {
		if card.UserID == userID {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Update(_ context.Context, card Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cards[card.ID]; !ok {
		return fmt.Errorf("card %s: %w", card.ID, apperr.ErrNotFound)
	}
	r.cards[card.ID] = card
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cards, id)
	return nil
}

// PostgresRepository stores cards in the user_cards table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed card repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectCard = `SELECT id, user_id, card_type_id, COALESCE(external_id, ''), status, masked_number, created_at, updated_at
        FROM user_cards`

// Create inserts a card.
func (r *PostgresRepository) Create(ctx context.Context, card Card) error {
	ids, err := parseIDs(card.ID, card.UserID, card.CardTypeID)
	if err != nil {
		return err
	}
	var external *string
	if card.ExternalID != "" {
		external = &card.ExternalID
	}
	_, err = r.db.Exec(ctx, `INSERT INTO user_cards (id, user_id, card_type_id, external_id, status, masked_number, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ids[0], ids[1], ids[2], external, card.Status, card.MaskedNumber, card.CreatedAt.UTC(), card.UpdatedAt.UTC())
	return err
}

// Get fetches a card by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, fmt.Errorf("card %s: %w", id, apperr.ErrNotFound)
	}
	card, err := scanCard(r.db.QueryRow(ctx, selectCard+` WHERE id = $1`, cardID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Card{}, fmt.Errorf("card %s: %w", id, apperr.ErrNotFound)
	}
	return card, err
}

// ListByUser returns a user's cards, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	owner, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, selectCard+` WHERE user_id = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// Update stores the mirrored issuer fields of a card.
func (r *PostgresRepository) Update(ctx context.Context, card Card) error {
	cardID, err := uuid.Parse(card.ID)
	if err != nil {
		return fmt.Errorf("card %s: %w", card.ID, apperr.ErrNotFound)
	}
	var external *string
	if card.ExternalID != "" {
		external = &card.ExternalID
	}
	cmd, err := r.db.Exec(ctx, `UPDATE user_cards SET external_id = $2, status = $3, masked_number = $4, updated_at = $5
        WHERE id = $1`, cardID, external, card.Status, card.MaskedNumber, card.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("card %s: %w", card.ID, apperr.ErrNotFound)
	}
	return nil
}

func parseIDs(raw ...string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("id %q: %w", s, apperr.ErrInvalidInput)
		}
		out[i] = id
	}
	return out, nil
}

func scanCard(row pgx.Row) (Card, error) {
	var (
		c                    Card
		id, userID, typeID   uuid.UUID
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &userID, &typeID, &c.ExternalID, &c.Status, &c.MaskedNumber, &createdAt, &updatedAt); err != nil {
		return Card{}, err
	}
	c.ID = id.String()
	c.UserID = userID.String()
	c.CardTypeID = typeID.String()
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return c, nil
}

// Delete removes a card the issuer declined to issue.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("card %s: %w", id, apperr.ErrNotFound)
	}
	_, err = r.db.Exec(ctx, `DELETE FROM user_cards WHERE id = $1`, cardID)
	return err
}
