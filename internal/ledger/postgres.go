package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

const uniqueViolation = "23505"

const transactionColumns = `id, user_id, COALESCE(card_id, ''), type, amount::text, fee::text, status, client_tx_id,
        payment_method, payment_amount::text, payment_currency, payment_address, payment_proof, reference, note,
        created_at, updated_at`

// PostgresLedger persists balances, entries and transactions in PostgreSQL.
// Every posting runs in one database transaction holding row locks on the
// affected accounts, so concurrent movements on one account serialize while
// unrelated accounts proceed independently.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (code, balance, created_at) VALUES ($1, 0, $2)
        ON CONFLICT (code) DO NOTHING`, code, time.Now().UTC())
	return err
}

// Balance returns the current balance of the account.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (decimal.Decimal, error) {
	var raw string
	if err := l.db.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE code = $1`, code).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("account %s: %w", code, apperr.ErrNotFound)
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// Post records the transaction and its postings in one database transaction.
func (l *PostgresLedger) Post(ctx context.Context, m Movement) (Result, error) {
	if err := validatePostings(m.Postings); err != nil {
		return Result{}, err
	}
	tx := prepare(m.Transaction, time.Now().UTC())

	dbTx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	if existing, err := lookup(ctx, dbTx, tx.Type, tx.ClientTxID); err == nil {
		return Result{Transaction: existing}, apperr.ErrDuplicate
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Result{}, err
	}

	next, err := lockAndApply(ctx, dbTx, m.Postings)
	if err != nil {
		return Result{}, err
	}

	if err := insertTransaction(ctx, dbTx, tx); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := l.Lookup(ctx, tx.Type, tx.ClientTxID)
			if lookupErr != nil {
				return Result{}, lookupErr
			}
			return Result{Transaction: existing}, apperr.ErrDuplicate
		}
		return Result{}, err
	}
	if err := writePostings(ctx, dbTx, tx.ID, m.Postings, next, tx.CreatedAt); err != nil {
		return Result{}, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Transaction: tx, Balances: next}, nil
}

// Record stores a transaction without postings, pending by default.
func (l *PostgresLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	tx = prepare(tx, time.Now().UTC())
	if err := insertTransaction(ctx, l.db, tx); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := l.Lookup(ctx, tx.Type, tx.ClientTxID)
			if lookupErr != nil {
				return Transaction{}, lookupErr
			}
			return existing, apperr.ErrDuplicate
		}
		return Transaction{}, err
	}
	return tx, nil
}

// Transition changes the status of a transaction and applies postings atomically.
func (l *PostgresLedger) Transition(ctx context.Context, t Transition) (Result, error) {
	if len(t.Postings) > 0 {
		if err := validatePostings(t.Postings); err != nil {
			return Result{}, err
		}
	}

	dbTx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	row := dbTx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, t.TransactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("transaction %s: %w", t.TransactionID, apperr.ErrNotFound)
		}
		return Result{}, err
	}
	if err := CheckTransition(tx.Type, tx.Status, t.To); err != nil {
		return Result{Transaction: tx}, err
	}

	next, err := lockAndApply(ctx, dbTx, t.Postings)
	if err != nil {
		return Result{}, err
	}

	tx = applyTransition(tx, t, time.Now().UTC())
	if _, err := dbTx.Exec(ctx, `UPDATE transactions
        SET status = $1, amount = $2, fee = $3, payment_proof = $4, note = $5, updated_at = $6
        WHERE id = $7`,
		string(tx.Status), tx.Amount.String(), tx.Fee.String(), tx.PaymentProof, tx.Note, tx.UpdatedAt, tx.ID); err != nil {
		return Result{}, err
	}
	if err := writePostings(ctx, dbTx, tx.ID, t.Postings, next, tx.UpdatedAt); err != nil {
		return Result{}, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Transaction: tx, Balances: next}, nil
}

// Get fetches a transaction by id.
func (l *PostgresLedger) Get(ctx context.Context, id string) (Transaction, error) {
	tx, err := scanTransaction(l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}
		return Transaction{}, err
	}
	return tx, nil
}

// Lookup fetches a transaction by its idempotency pair.
func (l *PostgresLedger) Lookup(ctx context.Context, typ Type, clientTxID string) (Transaction, error) {
	return lookup(ctx, l.db, typ, clientTxID)
}

// ListByUser returns the newest transactions of a user.
func (l *PostgresLedger) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListByStatus returns the newest transactions in any of statuses.
func (l *PostgresLedger) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Transaction, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE status = ANY($1) ORDER BY created_at DESC LIMIT $2`, values, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// CountByUser counts a user's transactions of one type and status.
func (l *PostgresLedger) CountByUser(ctx context.Context, userID string, typ Type, status Status) (int, error) {
	var n int
	err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND type = $2 AND status = $3`,
		userID, string(typ), string(status)).Scan(&n)
	return n, err
}

func (l *PostgresLedger) First(ctx context.Context, userID string, typ Type, status Status) (Transaction, error) {
	tx, err := scanTransaction(l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE user_id = $1 AND type = $2 AND status = $3 ORDER BY updated_at, created_at, id LIMIT 1`,
		userID, string(typ), string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("first %s for %s: %w", typ, userID, apperr.ErrNotFound)
	}
	return tx, err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockAndApply locks the posting accounts in code order and returns the new balances.
func lockAndApply(ctx context.Context, tx pgx.Tx, postings []Posting) (map[string]decimal.Decimal, error) {
	current := make(map[string]decimal.Decimal, len(postings))
	for _, code := range sortedAccounts(postings) {
		var raw string
		err := tx.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE code = $1 FOR UPDATE`, code).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("account %s: %w", code, apperr.ErrNotFound)
			}
			return nil, err
		}
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse balance of %s: %w", code, err)
		}
		current[code] = bal
	}
	return applyPostings(current, postings)
}

func writePostings(ctx context.Context, tx pgx.Tx, txID string, postings []Posting, next map[string]decimal.Decimal, at time.Time) error {
	for _, p := range postings {
		if _, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_code, amount, created_at)
            VALUES ($1, $2, $3, $4, $5)`, uuid.NewString(), txID, p.Account, p.Amount.String(), at); err != nil {
			return err
		}
	}
	for code, bal := range next {
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE code = $2`, bal.String(), code); err != nil {
			return err
		}
	}
	return nil
}

func insertTransaction(ctx context.Context, q querier, tx Transaction) error {
	var cardID *string
	if tx.CardID != "" {
		cardID = &tx.CardID
	}
	_, err := q.Exec(ctx, `INSERT INTO transactions (id, user_id, card_id, type, amount, fee, status, client_tx_id,
        payment_method, payment_amount, payment_currency, payment_address, payment_proof, reference, note, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		tx.ID, tx.UserID, cardID, string(tx.Type), tx.Amount.String(), tx.Fee.String(), string(tx.Status), tx.ClientTxID,
		tx.PaymentMethod, tx.PaymentAmount.String(), tx.PaymentCurrency, tx.PaymentAddress, tx.PaymentProof,
		tx.Reference, tx.Note, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func lookup(ctx context.Context, q querier, typ Type, clientTxID string) (Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE type = $1 AND client_tx_id = $2`,
		string(typ), clientTxID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", clientKey(typ, clientTxID), apperr.ErrNotFound)
		}
		return Transaction{}, err
	}
	return tx, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx                         Transaction
		typ, status                string
		amount, fee, paymentAmount string
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.CardID, &typ, &amount, &fee, &status, &tx.ClientTxID,
		&tx.PaymentMethod, &paymentAmount, &tx.PaymentCurrency, &tx.PaymentAddress, &tx.PaymentProof,
		&tx.Reference, &tx.Note, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	tx.Type = Type(typ)
	tx.Status = Status(status)
	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if tx.Fee, err = decimal.NewFromString(fee); err != nil {
		return Transaction{}, fmt.Errorf("parse fee: %w", err)
	}
	if tx.PaymentAmount, err = decimal.NewFromString(paymentAmount); err != nil {
		return Transaction{}, fmt.Errorf("parse payment amount: %w", err)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}

func collect(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

var _ querier = (*pgxpool.Pool)(nil)
