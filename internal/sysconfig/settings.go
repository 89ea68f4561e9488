package sysconfig

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Keys understood by Resolve. Unknown keys are rejected on write.
const (
	KeyAddressUSDT          = "payment_address_usdt"
	KeyAddressWeChat        = "payment_address_wechat"
	KeyAddressAlipay        = "payment_address_alipay"
	KeyRateWeChat           = "exchange_rate_wechat"
	KeyRateAlipay           = "exchange_rate_alipay"
	KeyReferralEnabled      = "referral_enabled"
	KeyReferralReward       = "referral_reward_amount"
	KeyWithdrawMinimum      = "withdraw_min_amount"
	KeyRechargeMinimum      = "recharge_min_amount"
	KeyFirstRechargePercent = "first_recharge_bonus_percent"
)

// Payment methods accepted for platform recharges.
const (
	MethodUSDT   = "usdt"
	MethodWeChat = "wechat"
	MethodAlipay = "alipay"
)

// Settings is the typed view over the SystemConfig store with defaults applied.
type Settings struct {
	PaymentAddresses          map[string]string          `json:"payment_addresses"`
	ExchangeRates             map[string]decimal.Decimal `json:"exchange_rates"`
	ReferralEnabled           bool                       `json:"referral_enabled"`
	ReferralReward            decimal.Decimal            `json:"referral_reward"`
	WithdrawMinimum           decimal.Decimal            `json:"withdraw_minimum"`
	RechargeMinimum           decimal.Decimal            `json:"recharge_minimum"`
	FirstRechargeBonusPercent decimal.Decimal            `json:"first_recharge_bonus_percent"`
}

// Defaults returns the settings used when the store is empty.
func Defaults() Settings {
	return Settings{
		PaymentAddresses: map[string]string{},
		ExchangeRates: map[string]decimal.Decimal{
			MethodUSDT:   decimal.NewFromInt(1),
			MethodWeChat: decimal.RequireFromString("7.2"),
			MethodAlipay: decimal.RequireFromString("7.2"),
		},
		ReferralEnabled:           false,
		ReferralReward:            decimal.NewFromInt(5),
		WithdrawMinimum:           decimal.NewFromInt(10),
		RechargeMinimum:           decimal.NewFromInt(10),
		FirstRechargeBonusPercent: decimal.Zero,
	}
}

// Resolve builds Settings from raw key/value pairs. Malformed values fall back
// to the default; Validate rejects them before they reach the store.
func Resolve(values map[string]string) Settings {
	s := Defaults()
	for method, key := range map[string]string{MethodUSDT: KeyAddressUSDT, MethodWeChat: KeyAddressWeChat, MethodAlipay: KeyAddressAlipay} {
		if v := strings.TrimSpace(values[key]); v != "" {
			s.PaymentAddresses[method] = v
		}
	}
	for method, key := range map[string]string{MethodWeChat: KeyRateWeChat, MethodAlipay: KeyRateAlipay} {
		if d, ok := positive(values[key]); ok {
			s.ExchangeRates[method] = d
		}
	}
	if v, ok := values[KeyReferralEnabled]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			s.ReferralEnabled = b
		}
	}
	if d, ok := nonNegative(values[KeyReferralReward]); ok {
		s.ReferralReward = d
	}
	if d, ok := nonNegative(values[KeyWithdrawMinimum]); ok {
		s.WithdrawMinimum = d
	}
	if d, ok := nonNegative(values[KeyRechargeMinimum]); ok {
		s.RechargeMinimum = d
	}
	if d, ok := nonNegative(values[KeyFirstRechargePercent]); ok {
		s.FirstRechargeBonusPercent = d
	}
	return s
}

// Rate returns the local currency units per USD for a payment method.
func (s Settings) Rate(method string) (decimal.Decimal, bool) {
	r, ok := s.ExchangeRates[method]
	return r, ok
}

func positive(raw string) (decimal.Decimal, bool) {
	d, ok := nonNegative(raw)
	if !ok || d.IsZero() {
		return decimal.Zero, false
	}
	return d, true
}

func nonNegative(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}
