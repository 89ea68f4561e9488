package cardtype

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Repository persists card types.
type Repository interface {
	Create(ctx context.Context, ct CardType) error
	Update(ctx context.Context, ct CardType) error
	Get(ctx context.Context, id string) (CardType, error)
	List(ctx context.Context, enabledOnly bool) ([]CardType, error)
}

type memoryRepository struct {
	mu    sync.RWMutex
	types map[string]CardType
}

// NewMemoryRepository builds an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{types: make(map[string]CardType)}
}

func (r *memoryRepository) Create(_ context.Context, ct CardType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[ct.ID]; exists {
		return fmt.Errorf("card type %s: %w", ct.ID, apperr.ErrDuplicate)
	}
	r.types[ct.ID] = ct
	return nil
}

func (r *memoryRepository) Update(_ context.Context, ct CardType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[ct.ID]; !exists {
		return fmt.Errorf("card type %s: %w", ct.ID, apperr.ErrNotFound)
	}
	r.types[ct.ID] = ct
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (CardType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.types[id]
	if !ok {
		return CardType{}, fmt.Errorf("card type %s: %w", id, apperr.ErrNotFound)
	}
	return ct, nil
}

func (r *memoryRepository) List(_ context.Context, enabledOnly bool) ([]CardType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CardType, 0, len(r.types))
	for _, ct := range r.types {
		if enabledOnly && !ct.Enabled {
			continue
		}
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PostgresRepository stores card types with fee schedules as JSONB.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectCardType = `SELECT id, name, product_code, enabled, fees, display_fees, created_at, updated_at FROM card_types`

// Create inserts a card type.
func (r *PostgresRepository) Create(ctx context.Context, ct CardType) error {
	_, err := r.db.Exec(ctx, `INSERT INTO card_types (id, name, product_code, enabled, fees, display_fees, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ct.ID, ct.Name, ct.ProductCode, ct.Enabled, ct.Fees, ct.Display, ct.CreatedAt.UTC(), ct.UpdatedAt.UTC())
	return err
}

// Update overwrites a card type.
func (r *PostgresRepository) Update(ctx context.Context, ct CardType) error {
	cmd, err := r.db.Exec(ctx, `UPDATE card_types SET name = $2, product_code = $3, enabled = $4, fees = $5,
        display_fees = $6, updated_at = $7 WHERE id = $1`,
		ct.ID, ct.Name, ct.ProductCode, ct.Enabled, ct.Fees, ct.Display, ct.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("card type %s: %w", ct.ID, apperr.ErrNotFound)
	}
	return nil
}

// Get fetches one card type.
func (r *PostgresRepository) Get(ctx context.Context, id string) (CardType, error) {
	ct, err := scan(r.db.QueryRow(ctx, selectCardType+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CardType{}, fmt.Errorf("card type %s: %w", id, apperr.ErrNotFound)
	}
	return ct, err
}

// List returns card types ordered by creation.
func (r *PostgresRepository) List(ctx context.Context, enabledOnly bool) ([]CardType, error) {
	rows, err := r.db.Query(ctx, selectCardType+` WHERE enabled OR NOT $1 ORDER BY created_at`, enabledOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CardType
	for rows.Next() {
		ct, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (CardType, error) {
	var (
		ct                   CardType
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&ct.ID, &ct.Name, &ct.ProductCode, &ct.Enabled, &ct.Fees, &ct.Display, &createdAt, &updatedAt); err != nil {
		return CardType{}, err
	}
	ct.CreatedAt = createdAt.UTC()
	ct.UpdatedAt = updatedAt.UTC()
	return ct, nil
}
