package fees

import "github.com/shopspring/decimal"

// Schedule is the applied fee schedule of a card type. Percent fields are
// expressed in percent units (2 means 2%). Missing values resolve to zero when
// the schedule is loaded, never at the call site.
type Schedule struct {
	OpenFee               decimal.Decimal `json:"open_fee"`
	MonthlyFee            decimal.Decimal `json:"monthly_fee"`
	RechargeFeePercent    decimal.Decimal `json:"recharge_fee_percent"`
	RechargeFeeMin        decimal.Decimal `json:"recharge_fee_min"`
	TransactionFeePercent decimal.Decimal `json:"transaction_fee_percent"`
	TransactionFeeMin     decimal.Decimal `json:"transaction_fee_min"`
	AuthFee               decimal.Decimal `json:"auth_fee"`
	AuthFeePercent        decimal.Decimal `json:"auth_fee_percent"`
	AuthFeeMin            decimal.Decimal `json:"auth_fee_min"`
	AuthFailFee           decimal.Decimal `json:"auth_fail_fee"`
	RefundFeePercent      decimal.Decimal `json:"refund_fee_percent"`
	RefundFeeMin          decimal.Decimal `json:"refund_fee_min"`
	SmallRefundFee        decimal.Decimal `json:"small_refund_fee"`
	LargeRefundThreshold  decimal.Decimal `json:"large_refund_threshold"`
	CrossBorderFeePercent decimal.Decimal `json:"cross_border_fee_percent"`
	CrossBorderFeeMin     decimal.Decimal `json:"cross_border_fee_min"`
	ChargebackFee         decimal.Decimal `json:"chargeback_fee"`
}

// Quote is the outcome of a fee computation.
//
// Amount is the requested amount, Fee the charge, Total what leaves the
// source pool and Net what arrives at the destination.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Total  decimal.Decimal `json:"total"`
	Net    decimal.Decimal `json:"net"`
}
