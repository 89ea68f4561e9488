package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

type sample struct {
	Email  string          `json:"email" validate:"required,email"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Method string          `json:"method" validate:"required,payment_method"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Email: "nope", Amount: decimal.NewFromInt(-1), Method: "paypal"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	var fields FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("expected FieldErrors, got %T", err)
	}
	for _, name := range []string{"email", "amount", "method"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("missing error for %s: %v", name, fields)
		}
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	err := Struct(sample{Email: "a@example.com", Amount: decimal.RequireFromString("0.01"), Method: "wechat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
