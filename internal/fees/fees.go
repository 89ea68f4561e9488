package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

var (
	hundred          = decimal.NewFromInt(100)
	cardWithdrawRate = decimal.NewFromInt(2)
)

type step struct {
	bound decimal.Decimal
	fee   decimal.Decimal
}

// Card withdraw to platform balance through the account route. Bounds are exclusive.
var cardWithdrawLadder = []step{
	{bound: decimal.NewFromInt(50), fee: decimal.NewFromInt(1)},
	{bound: decimal.NewFromInt(100), fee: decimal.NewFromInt(2)},
	{bound: decimal.NewFromInt(200), fee: decimal.NewFromInt(4)},
}

var cardWithdrawCeiling = decimal.NewFromInt(10)

// Platform balance withdraw to an external payment method. Bounds are inclusive.
var platformWithdrawLadder = []step{
	{bound: decimal.NewFromInt(10), fee: decimal.NewFromInt(1)},
	{bound: decimal.NewFromInt(20), fee: decimal.NewFromInt(1)},
	{bound: decimal.NewFromInt(50), fee: decimal.NewFromInt(2)},
	{bound: decimal.NewFromInt(100), fee: decimal.NewFromInt(4)},
	{bound: decimal.NewFromInt(200), fee: decimal.NewFromInt(6)},
	{bound: decimal.NewFromInt(300), fee: decimal.NewFromInt(8)},
}

var platformWithdrawCeiling = decimal.NewFromInt(10)

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%s: %w", amount.String(), apperr.ErrInvalidAmount)
	}
	return nil
}

// ParseAmount parses a user supplied decimal string and validates it.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q: %w", raw, apperr.ErrInvalidAmount)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}

// CardRecharge prices moving amount from the platform balance onto a card.
// RechargeFeeMin is intentionally not applied.
func CardRecharge(amount decimal.Decimal, s Schedule) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	fee := percentOf(amount, s.RechargeFeePercent)
	return Quote{Amount: amount, Fee: fee, Total: amount.Add(fee), Net: amount}, nil
}

// OpenCard prices opening a card with an initial balance: the open fee plus
// the recharge of the initial amount.
func OpenCard(initialAmount decimal.Decimal, s Schedule) (Quote, error) {
	recharge, err := CardRecharge(initialAmount, s)
	if err != nil {
		return Quote{}, err
	}
	fee := s.OpenFee.Add(recharge.Fee)
	return Quote{
		Amount: initialAmount,
		Fee:    fee,
		Total:  initialAmount.Add(fee),
		Net:    initialAmount,
	}, nil
}

// CardWithdrawFlat prices a card withdraw to the platform balance at a flat 2%.
func CardWithdrawFlat(amount decimal.Decimal) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	fee := percentOf(amount, cardWithdrawRate)
	return Quote{Amount: amount, Fee: fee, Total: amount, Net: amount.Sub(fee)}, nil
}

// CardWithdrawTiered prices a card withdraw through the account route.
func CardWithdrawTiered(amount decimal.Decimal) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	fee := cardWithdrawCeiling
	for _, s := range cardWithdrawLadder {
		if amount.LessThan(s.bound) {
			fee = s.fee
			break
		}
	}
	return withdrawQuote(amount, fee)
}

// PlatformWithdraw prices a platform balance withdraw to an external payment
// method. The fee is carved out of the requested amount, so Total equals the
// requested amount.
func PlatformWithdraw(amount decimal.Decimal) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	fee := platformWithdrawCeiling
	for _, s := range platformWithdrawLadder {
		if amount.LessThanOrEqual(s.bound) {
			fee = s.fee
			break
		}
	}
	return withdrawQuote(amount, fee)
}

// Refund prices a refund reconciliation. Refunds at or above the large refund
// threshold pay max(percent, min); smaller refunds pay the flat small refund fee.
func Refund(amount decimal.Decimal, s Schedule) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	var fee decimal.Decimal
	if amount.GreaterThanOrEqual(s.LargeRefundThreshold) {
		fee = decimal.Max(percentOf(amount, s.RefundFeePercent), s.RefundFeeMin)
	} else {
		fee = s.SmallRefundFee
	}
	return carveOut(amount, fee), nil
}

// RefundWithFee applies an admin supplied fee override to a refund.
func RefundWithFee(amount, fee decimal.Decimal) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	if fee.IsNegative() {
		return Quote{}, fmt.Errorf("fee %s: %w", fee.String(), apperr.ErrInvalidAmount)
	}
	return carveOut(amount, fee), nil
}

// ReferralReward returns the flat configured reward, or zero when unset.
func ReferralReward(configured decimal.Decimal) decimal.Decimal {
	if configured.IsPositive() {
		return configured
	}
	return decimal.Zero
}

// withdrawQuote carves a ladder fee out of amount. Amounts the fee would
// consume entirely are rejected.
func withdrawQuote(amount, fee decimal.Decimal) (Quote, error) {
	if amount.LessThanOrEqual(fee) {
		return Quote{}, fmt.Errorf("amount %s does not cover the %s fee: %w", amount.String(), fee.String(), apperr.ErrInvalidAmount)
	}
	return Quote{Amount: amount, Fee: fee, Total: amount, Net: amount.Sub(fee)}, nil
}

// carveOut takes a refund fee out of amount. The fee never exceeds the amount
// so the net is never negative.
func carveOut(amount, fee decimal.Decimal) Quote {
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return Quote{Amount: amount, Fee: fee, Total: amount, Net: amount.Sub(fee)}
}
