package funding

import "github.com/shopspring/decimal"

// RechargeRequest opens a recharge order.
type RechargeRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"required,payment_method"`
	RequestID     string          `json:"request_id" validate:"omitempty,max=64"`
}

// ProofRequest attaches a payment proof (transaction hash or receipt id).
type ProofRequest struct {
	Proof string `json:"proof" validate:"required,max=512"`
}

// WithdrawRequest asks for a payout to an external account.
type WithdrawRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"required,payment_method"`
	Account       string          `json:"account" validate:"required,max=256"`
	RequestID     string          `json:"request_id" validate:"omitempty,max=64"`
}
