package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Type classifies a ledger-affecting operation.
type Type string

const (
	TypeRecharge           Type = "recharge"
	TypeWithdraw           Type = "withdraw"
	TypeCardRecharge       Type = "card_recharge"
	TypeCardWithdraw       Type = "card_withdraw"
	TypeOpenCard           Type = "open_card"
	TypeRefundHold         Type = "refund_hold"
	TypeReferralBonus      Type = "referral_bonus"
	TypeFirstRechargeBonus Type = "first_recharge_bonus"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	// SystemUpstream is the card issuer and external payment rails. It is a sink
	// with no real stored balance.
	SystemUpstream = "system:upstream"
	// SystemRevenue collects fees.
	SystemRevenue = "system:revenue"
	// SystemWithdrawHold parks funds reserved by pending withdrawals.
	SystemWithdrawHold = "system:withdraw_hold"
	// SystemRewards funds referral and recharge bonuses.
	SystemRewards = "system:rewards"
	// SystemSuspense parks funds of card operations whose issuer outcome is
	// unknown until an admin settles or voids them.
	SystemSuspense = "system:suspense"

	systemPrefix = "system:"
)

// SystemAccounts lists every account that must exist before postings.
var SystemAccounts = []string{SystemUpstream, SystemRevenue, SystemWithdrawHold, SystemRewards, SystemSuspense}

// UserAccount is the platform balance of a user.
func UserAccount(userID string) string { return "user:" + userID }

// CardAccount is the balance of a provisioned card.
func CardAccount(cardID string) string { return "card:" + cardID }

// IsSystem reports whether code is a system account, which may go negative.
func IsSystem(code string) bool { return strings.HasPrefix(code, systemPrefix) }

// Transaction is the immutable audit record of one ledger-affecting operation.
// Only status, fee, amount, proof and note change after creation.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CardID          string          `json:"card_id,omitempty"`
	Type            Type            `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	Status          Status          `json:"status"`
	ClientTxID      string          `json:"client_tx_id"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	PaymentCurrency string          `json:"payment_currency,omitempty"`
	PaymentAddress  string          `json:"payment_address,omitempty"`
	PaymentProof    string          `json:"payment_proof,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Posting is a signed change to one account. Negative amounts debit.
type Posting struct {
	Account string
	Amount  decimal.Decimal
}

// Debit builds a posting that takes amount out of account.
func Debit(account string, amount decimal.Decimal) Posting {
	return Posting{Account: account, Amount: amount.Neg()}
}

// Credit builds a posting that adds amount to account.
func Credit(account string, amount decimal.Decimal) Posting {
	return Posting{Account: account, Amount: amount}
}

// Postings drops zero legs so callers can build movements with optional fees.
func Postings(legs ...Posting) []Posting {
	out := make([]Posting, 0, len(legs))
	for _, p := range legs {
		if !p.Amount.IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// Movement is a balanced set of postings recorded under one Transaction.
type Movement struct {
	Transaction Transaction
	Postings    []Posting
}

// Transition moves a Transaction to a new status, applying Postings in the
// same atomic step. Amount, Fee and Proof overwrite the stored values when set.
type Transition struct {
	TransactionID string
	To            Status
	Postings      []Posting
	Amount        *decimal.Decimal
	Fee           *decimal.Decimal
	Proof         string
	Note          string
}

// Result captures the outcome of a posting.
type Result struct {
	Transaction Transaction                `json:"transaction"`
	Balances    map[string]decimal.Decimal `json:"balances"`
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (decimal.Decimal, error)
	// Post records a Transaction and applies its postings atomically. A reused
	// (type, client tx id) pair returns the stored row with apperr.ErrDuplicate.
	Post(ctx context.Context, m Movement) (Result, error)
	// Record stores a Transaction without moving funds.
	Record(ctx context.Context, tx Transaction) (Transaction, error)
	Transition(ctx context.Context, t Transition) (Result, error)
	Get(ctx context.Context, id string) (Transaction, error)
	Lookup(ctx context.Context, typ Type, clientTxID string) (Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Transaction, error)
	CountByUser(ctx context.Context, userID string, typ Type, status Status) (int, error)
	// First returns the user's earliest transaction of typ to reach status,
	// ordered by last update. apperr.ErrNotFound when there is none.
	First(ctx context.Context, userID string, typ Type, status Status) (Transaction, error)
}

// CheckTransition enforces the transaction state machine. Recharges go through
// processing (proof uploaded) before completion; everything else settles in a
// single step from pending.
func CheckTransition(typ Type, from, to Status) error {
	if from.Terminal() {
		return apperr.ErrAlreadyProcessed
	}
	switch {
	case from == StatusPending && to == StatusProcessing:
		if typ == TypeRecharge {
			return nil
		}
	case from == StatusPending && to == StatusFailed:
		return nil
	case from == StatusPending && to == StatusCompleted:
		if typ != TypeRecharge {
			return nil
		}
	case from == StatusProcessing && to.Terminal():
		return nil
	}
	return fmt.Errorf("%s %s -> %s: %w", typ, from, to, apperr.ErrInvalidTransition)
}

func validatePostings(postings []Posting) error {
	sum := decimal.Zero
	for _, p := range postings {
		if p.Account == "" {
			return fmt.Errorf("posting without account: %w", apperr.ErrInvalidInput)
		}
		if p.Amount.IsZero() {
			return fmt.Errorf("zero posting on %s: %w", p.Account, apperr.ErrInvalidAmount)
		}
		sum = sum.Add(p.Amount)
	}
	if !sum.IsZero() {
		return fmt.Errorf("postings do not balance (%s): %w", sum.String(), apperr.ErrInvalidInput)
	}
	return nil
}

// applyPostings returns the balances after postings without mutating current.
// Non-system accounts may not go negative.
func applyPostings(current map[string]decimal.Decimal, postings []Posting) (map[string]decimal.Decimal, error) {
	next := make(map[string]decimal.Decimal, len(postings))
	for _, p := range postings {
		bal, ok := next[p.Account]
		if !ok {
			bal, ok = current[p.Account]
			if !ok {
				return nil, fmt.Errorf("account %s: %w", p.Account, apperr.ErrNotFound)
			}
		}
		next[p.Account] = bal.Add(p.Amount)
	}
	for code, bal := range next {
		if bal.IsNegative() && !IsSystem(code) {
			return nil, fmt.Errorf("account %s: %w", code, apperr.ErrInsufficientBalance)
		}
	}
	return next, nil
}

func prepare(tx Transaction, now time.Time) Transaction {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.ClientTxID == "" {
		tx.ClientTxID = tx.ID
	}
	if tx.Status == "" {
		tx.Status = StatusCompleted
	}
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return tx
}

func clientKey(typ Type, clientTxID string) string {
	return string(typ) + ":" + clientTxID
}
