package card

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
)

// Card is a user's virtual card. ExternalID is assigned by the issuer and
// stays empty until provisioning completes. Status mirrors the issuer.
type Card struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CardTypeID   string    `json:"card_type_id"`
	ExternalID   string    `json:"external_id,omitempty"`
	Status       string    `json:"status"`
	MaskedNumber string    `json:"masked_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccountCode is the ledger account holding the card balance.
func (c Card) AccountCode() string { return ledger.CardAccount(c.ID) }

// View is a card with its ledger balance.
type View struct {
	Card
	Balance decimal.Decimal `json:"balance"`
}

// Outcome is the result of a card money movement.
type Outcome struct {
	Card        Card                       `json:"card"`
	Transaction ledger.Transaction         `json:"transaction"`
	Quote       fees.Quote                 `json:"quote"`
	Balances    map[string]decimal.Decimal `json:"balances,omitempty"`
	// Replayed is set when the request id was already processed and the
	// stored outcome is returned instead of moving funds again.
	Replayed bool `json:"replayed"`
}

// SyncResult compares the issuer's view of a card with the local mirror.
type SyncResult struct {
	Card            Card            `json:"card"`
	UpstreamBalance decimal.Decimal `json:"upstream_balance"`
	LedgerBalance   decimal.Decimal `json:"ledger_balance"`
	Drift           decimal.Decimal `json:"drift"`
	StatusChanged   bool            `json:"status_changed"`
	PreviousStatus  string          `json:"previous_status,omitempty"`
}
