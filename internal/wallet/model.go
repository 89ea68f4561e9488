package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency of every platform wallet.
const Currency = "USD"

// Wallet is a user's platform balance backed by the ledger account user:<owner>.
type Wallet struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	AccountCode string    `json:"account_code"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance is the available platform balance of a wallet.
type Balance struct {
	WalletID string          `json:"wallet_id"`
	Amount   decimal.Decimal `json:"balance"`
	AsOf     time.Time       `json:"timestamp"`
}
