package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

// SettingsSource provides the current typed system settings.
type SettingsSource interface {
	Settings() sysconfig.Settings
}

// Recorder counts ledger-affecting operations.
type Recorder interface {
	Movement(typ, status string)
}

// Service moves money between the platform balance and the outside world.
// Recharges only record an order; funds are credited when an admin confirms
// the payment. Withdrawals reserve the full amount immediately.
type Service struct {
	ledger   ledger.Ledger
	settings SettingsSource
	metrics  Recorder
	logger   *slog.Logger
}

// NewService prepares a funding service ensuring the system accounts it posts to exist.
func NewService(ctx context.Context, l ledger.Ledger, settings SettingsSource, metrics Recorder, logger *slog.Logger) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	for _, code := range []string{ledger.SystemWithdrawHold, ledger.SystemUpstream} {
		if err := l.EnsureAccount(ctx, code); err != nil {
			return nil, err
		}
	}
	return &Service{ledger: l, settings: settings, metrics: metrics, logger: logger}, nil
}

// RechargeInput requests a platform balance top-up paid outside the platform.
type RechargeInput struct {
	UserID    string
	Amount    decimal.Decimal
	Method    string
	RequestID string
}

// WithdrawInput requests a payout of Amount from the platform balance to an
// external account.
type WithdrawInput struct {
	UserID    string
	Amount    decimal.Decimal
	Method    string
	Account   string
	RequestID string
}

// Result is the recorded order.
type Result struct {
	Transaction ledger.Transaction         `json:"transaction"`
	Quote       fees.Quote                 `json:"quote"`
	Balances    map[string]decimal.Decimal `json:"balances,omitempty"`
	Replayed    bool                       `json:"replayed"`
}

// RequestRecharge records a pending recharge order with the payment
// instructions for the chosen method. No funds move.
func (s *Service) RequestRecharge(ctx context.Context, in RechargeInput) (Result, error) {
	if err := fees.ValidateAmount(in.Amount); err != nil {
		return Result{}, err
	}
	settings := s.settings.Settings()
	if in.Amount.LessThan(settings.RechargeMinimum) {
		return Result{}, fmt.Errorf("minimum recharge is %s USD: %w", settings.RechargeMinimum.StringFixed(2), apperr.ErrInvalidInput)
	}
	method := strings.ToLower(in.Method)
	rate, ok := settings.Rate(method)
	if !ok {
		return Result{}, fmt.Errorf("unsupported payment method %q: %w", in.Method, apperr.ErrInvalidInput)
	}
	address := settings.PaymentAddresses[method]
	if address == "" {
		return Result{}, fmt.Errorf("payment method %s is not available: %w", method, apperr.ErrInvalidInput)
	}

	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		UserID:          in.UserID,
		Type:            ledger.TypeRecharge,
		Amount:          in.Amount,
		Status:          ledger.StatusPending,
		ClientTxID:      scopedRequestID(in.UserID, in.RequestID),
		PaymentMethod:   method,
		PaymentAmount:   in.Amount.Mul(rate).Round(2),
		PaymentCurrency: currencyFor(method),
		PaymentAddress:  address,
	})
	quote := fees.Quote{Amount: in.Amount, Total: in.Amount, Net: in.Amount}
	if errors.Is(err, apperr.ErrDuplicate) {
		return Result{Transaction: tx, Quote: quote, Replayed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	s.count(ledger.TypeRecharge, ledger.StatusPending)
	s.logger.Info("recharge.requested",
		slog.String("user_id", in.UserID),
		slog.String("transaction_id", tx.ID),
		slog.String("method", method),
		slog.String("amount", in.Amount.String()),
	)
	return Result{Transaction: tx, Quote: quote}, nil
}

// SubmitProof attaches the payment proof to a pending recharge and hands it
// to admin review.
func (s *Service) SubmitProof(ctx context.Context, userID, transactionID, proof string) (ledger.Transaction, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return ledger.Transaction{}, fmt.Errorf("payment proof is required: %w", apperr.ErrInvalidInput)
	}
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.UserID != userID || tx.Type != ledger.TypeRecharge {
		return ledger.Transaction{}, fmt.Errorf("recharge %s: %w", transactionID, apperr.ErrNotFound)
	}
	res, err := s.ledger.Transition(ctx, ledger.Transition{
		TransactionID: tx.ID,
		To:            ledger.StatusProcessing,
		Proof:         proof,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.count(ledger.TypeRecharge, ledger.StatusProcessing)
	s.logger.Info("recharge.proof_submitted", slog.String("user_id", userID), slog.String("transaction_id", tx.ID))
	return res.Transaction, nil
}

// RequestWithdraw reserves the full requested amount in the withdraw hold.
// The fee is carved out of it when the payout is confirmed.
func (s *Service) RequestWithdraw(ctx context.Context, in WithdrawInput) (Result, error) {
	quote, err := fees.PlatformWithdraw(in.Amount)
	if err != nil {
		return Result{}, err
	}
	settings := s.settings.Settings()
	if in.Amount.LessThan(settings.WithdrawMinimum) {
		return Result{}, fmt.Errorf("minimum withdrawal is %s USD: %w", settings.WithdrawMinimum.StringFixed(2), apperr.ErrInvalidInput)
	}
	method := strings.ToLower(in.Method)
	if _, ok := settings.Rate(method); !ok {
		return Result{}, fmt.Errorf("unsupported payment method %q: %w", in.Method, apperr.ErrInvalidInput)
	}
	account := strings.TrimSpace(in.Account)
	if account == "" {
		return Result{}, fmt.Errorf("payout account is required: %w", apperr.ErrInvalidInput)
	}

	res, err := s.ledger.Post(ctx, ledger.Movement{
		Transaction: ledger.Transaction{
			UserID:         in.UserID,
			Type:           ledger.TypeWithdraw,
			Amount:         quote.Amount.Neg(),
			Fee:            quote.Fee,
			Status:         ledger.StatusPending,
			ClientTxID:     scopedRequestID(in.UserID, in.RequestID),
			PaymentMethod:  method,
			PaymentAmount:  quote.Net,
			PaymentAddress: account,
		},
		Postings: []ledger.Posting{
			ledger.Debit(ledger.UserAccount(in.UserID), quote.Amount),
			ledger.Credit(ledger.SystemWithdrawHold, quote.Amount),
		},
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicate):
		return Result{Transaction: res.Transaction, Quote: quote, Replayed: true}, nil
	case errors.Is(err, apperr.ErrInsufficientBalance):
		s.count(ledger.TypeWithdraw, "rejected")
		return Result{}, err
	case err != nil:
		return Result{}, err
	}
	s.count(ledger.TypeWithdraw, ledger.StatusPending)
	s.logger.Info("withdraw.requested",
		slog.String("user_id", in.UserID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("amount", quote.Amount.String()),
		slog.String("fee", quote.Fee.String()),
	)
	return Result{Transaction: res.Transaction, Quote: quote, Balances: res.Balances}, nil
}

func (s *Service) count(typ ledger.Type, status ledger.Status) {
	if s.metrics != nil {
		s.metrics.Movement(string(typ), string(status))
	}
}

func currencyFor(method string) string {
	if method == sysconfig.MethodUSDT {
		return "USDT"
	}
	return "CNY"
}

func scopedRequestID(userID, requestID string) string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return userID + ":" + requestID
}
