package sysconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/logging"
)

func TestResolveAppliesDefaults(t *testing.T) {
	s := Resolve(map[string]string{
		KeyReferralReward: "not-a-number",
		KeyRateWeChat:     "-3",
	})
	if !s.WithdrawMinimum.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected default withdraw minimum 10, got %s", s.WithdrawMinimum)
	}
	if !s.ReferralReward.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("malformed reward should fall back to default, got %s", s.ReferralReward)
	}
	if rate, _ := s.Rate(MethodWeChat); !rate.Equal(decimal.RequireFromString("7.2")) {
		t.Fatalf("negative rate should fall back to default, got %s", rate)
	}
	if s.ReferralEnabled {
		t.Fatalf("referral should default to disabled")
	}
}

func TestServiceSetRefreshesSettings(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(ctx, NewMemoryStore(nil), logging.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Set(ctx, KeyReferralEnabled, "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.Set(ctx, KeyReferralReward, " 8.5 "); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.Set(ctx, KeyAddressUSDT, "TXabc"); err != nil {
		t.Fatalf("set: %v", err)
	}

	s := svc.Settings()
	if !s.ReferralEnabled || !s.ReferralReward.Equal(decimal.RequireFromString("8.5")) {
		t.Fatalf("unexpected referral settings: %+v", s)
	}
	if s.PaymentAddresses[MethodUSDT] != "TXabc" {
		t.Fatalf("expected usdt address, got %q", s.PaymentAddresses[MethodUSDT])
	}
}

func TestServiceSetRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(ctx, NewMemoryStore(nil), logging.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cases := map[string]string{
		KeyReferralEnabled: "maybe",
		KeyRateAlipay:      "0",
		KeyWithdrawMinimum: "-1",
		"balance":          "100",
	}
	for key, value := range cases {
		if err := svc.Set(ctx, key, value); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("%s=%s: expected invalid input, got %v", key, value, err)
		}
	}
}
