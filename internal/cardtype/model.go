package cardtype

import (
	"time"

	"github.com/vcard-pay/vcard_pay/internal/fees"
)

// CardType is a card product offered by the issuer together with the fee
// schedule applied to cards of that type.
type CardType struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	ProductCode string        `json:"product_code"`
	Enabled     bool          `json:"enabled"`
	Fees        fees.Schedule `json:"fees"`
	Display     DisplayFees   `json:"display_fees"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DisplayFees is the marketing copy shown to users. It is free text and is
// never read by fee computation.
type DisplayFees struct {
	OpenFee        string `json:"open_fee,omitempty"`
	MonthlyFee     string `json:"monthly_fee,omitempty"`
	RechargeFee    string `json:"recharge_fee,omitempty"`
	TransactionFee string `json:"transaction_fee,omitempty"`
	AuthFee        string `json:"auth_fee,omitempty"`
	RefundFee      string `json:"refund_fee,omitempty"`
	CrossBorderFee string `json:"cross_border_fee,omitempty"`
	ChargebackFee  string `json:"chargeback_fee,omitempty"`
}
