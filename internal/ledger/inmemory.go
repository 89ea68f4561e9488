package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]decimal.Decimal
	transactions map[string]Transaction
	byClient     map[string]string
	order        []string
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development without Postgres.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[string]decimal.Decimal),
		transactions: make(map[string]Transaction),
		byClient:     make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = decimal.Zero
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return decimal.Zero, fmt.Errorf("account %s: %w", code, apperr.ErrNotFound)
	}
	return balance, nil
}

func (l *inMemoryLedger) Post(_ context.Context, m Movement) (Result, error) {
	if err := validatePostings(m.Postings); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := prepare(m.Transaction, l.now())
	if id, exists := l.byClient[clientKey(tx.Type, tx.ClientTxID)]; exists {
		return Result{Transaction: l.transactions[id], Balances: l.snapshotLocked(m.Postings)}, apperr.ErrDuplicate
	}

	next, err := applyPostings(l.balances, m.Postings)
	if err != nil {
		return Result{}, err
	}
	for code, bal := range next {
		l.balances[code] = bal
	}
	l.storeLocked(tx)
	return Result{Transaction: tx, Balances: next}, nil
}

func (l *inMemoryLedger) Record(_ context.Context, tx Transaction) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Status == "" {
		tx.Status = StatusPending
	}
	tx = prepare(tx, l.now())
	if id, exists := l.byClient[clientKey(tx.Type, tx.ClientTxID)]; exists {
		return l.transactions[id], apperr.ErrDuplicate
	}
	l.storeLocked(tx)
	return tx, nil
}

func (l *inMemoryLedger) Transition(_ context.Context, t Transition) (Result, error) {
	if len(t.Postings) > 0 {
		if err := validatePostings(t.Postings); err != nil {
			return Result{}, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[t.TransactionID]
	if !ok {
		return Result{}, fmt.Errorf("transaction %s: %w", t.TransactionID, apperr.ErrNotFound)
	}
	if err := CheckTransition(tx.Type, tx.Status, t.To); err != nil {
		return Result{Transaction: tx}, err
	}

	next, err := applyPostings(l.balances, t.Postings)
	if err != nil {
		return Result{}, err
	}
	for code, bal := range next {
		l.balances[code] = bal
	}

	tx = applyTransition(tx, t, l.now())
	l.transactions[tx.ID] = tx
	return Result{Transaction: tx, Balances: next}, nil
}

func (l *inMemoryLedger) Get(_ context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
	}
	return tx, nil
}

func (l *inMemoryLedger) Lookup(_ context.Context, typ Type, clientTxID string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byClient[clientKey(typ, clientTxID)]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", clientKey(typ, clientTxID), apperr.ErrNotFound)
	}
	return l.transactions[id], nil
}

func (l *inMemoryLedger) ListByUser(_ context.Context, userID string, limit int) ([]Transaction, error) {
	return l.list(limit, func(tx Transaction) bool { return tx.UserID == userID }), nil
}

func (l *inMemoryLedger) ListByStatus(_ context.Context, statuses []Status, limit int) ([]Transaction, error) {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return l.list(limit, func(tx Transaction) bool { return want[tx.Status] }), nil
}

func (l *inMemoryLedger) CountByUser(_ context.Context, userID string, typ Type, status Status) (int, error) {
	return len(l.list(0, func(tx Transaction) bool {
		return tx.UserID == userID && tx.Type == typ && tx.Status == status
	})), nil
}

func (l *inMemoryLedger) First(_ context.Context, userID string, typ Type, status Status) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var first Transaction
	found := false
	for _, id := range l.order {
		tx := l.transactions[id]
		if tx.UserID != userID || tx.Type != typ || tx.Status != status {
			continue
		}
		if !found || tx.UpdatedAt.Before(first.UpdatedAt) {
			first, found = tx, true
		}
	}
	if !found {
		return Transaction{}, fmt.Errorf("first %s for %s: %w", typ, userID, apperr.ErrNotFound)
	}
	return first, nil
}

// list returns matching transactions newest first.
func (l *inMemoryLedger) list(limit int, match func(Transaction) bool) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for i := len(l.order) - 1; i >= 0; i-- {
		tx := l.transactions[l.order[i]]
		if !match(tx) {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (l *inMemoryLedger) storeLocked(tx Transaction) {
	l.transactions[tx.ID] = tx
	l.byClient[clientKey(tx.Type, tx.ClientTxID)] = tx.ID
	l.order = append(l.order, tx.ID)
}

func (l *inMemoryLedger) snapshotLocked(postings []Posting) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(postings))
	for _, p := range postings {
		out[p.Account] = l.balances[p.Account]
	}
	return out
}

func applyTransition(tx Transaction, t Transition, now time.Time) Transaction {
	tx.Status = t.To
	if t.Amount != nil {
		tx.Amount = *t.Amount
	}
	if t.Fee != nil {
		tx.Fee = *t.Fee
	}
	if t.Proof != "" {
		tx.PaymentProof = t.Proof
	}
	if t.Note != "" {
		tx.Note = t.Note
	}
	tx.UpdatedAt = now
	return tx
}

// sortedAccounts returns the distinct accounts of postings in lock order.
func sortedAccounts(postings []Posting) []string {
	seen := make(map[string]bool, len(postings))
	codes := make([]string, 0, len(postings))
	for _, p := range postings {
		if !seen[p.Account] {
			seen[p.Account] = true
			codes = append(codes, p.Account)
		}
	}
	sort.Strings(codes)
	return codes
}
