package issuer

import (
	"context"

	"github.com/shopspring/decimal"
)

// Upstream card states as reported by the issuer.
const (
	CardStatusPending   = "pending"
	CardStatusActive    = "active"
	CardStatusFrozen    = "frozen"
	CardStatusCancelled = "cancelled"
)

// ApplyCardRequest asks the issuer to provision a card.
type ApplyCardRequest struct {
	RequestID        string `json:"request_id"`
	ProductCode      string `json:"product_code"`
	InitBalanceCents int64  `json:"init_balance_cents"`
}

// ApplyCardResponse is the provisioning outcome. CardID may be empty while the
// issuer is still provisioning.
type ApplyCardResponse struct {
	CardID string `json:"card_id"`
	Status string `json:"status"`
}

// BalanceRequest moves Amount USD onto or off an issued card.
type BalanceRequest struct {
	RequestID string          `json:"request_id"`
	CardID    string          `json:"card_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Ack acknowledges a balance change.
type Ack struct {
	Reference string `json:"reference"`
}

// CardDetail mirrors the issuer's view of a card.
type CardDetail struct {
	CardID           string          `json:"card_id"`
	Status           string          `json:"status"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	MaskedNumber     string          `json:"masked_number"`
}

// Client is the card-issuing API. Every call is fallible: failures and
// declines wrap apperr.ErrExternalService, unknown outcomes after a timeout
// wrap apperr.ErrIndeterminate. Calls are idempotent by RequestID.
type Client interface {
	ApplyCard(ctx context.Context, req ApplyCardRequest) (ApplyCardResponse, error)
	RechargeCard(ctx context.Context, req BalanceRequest) (Ack, error)
	WithdrawFromCard(ctx context.Context, req BalanceRequest) (Ack, error)
	GetCardDetail(ctx context.Context, cardID string) (CardDetail, error)
}

// Cents converts a USD amount to whole cents, rounding half away from zero.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
