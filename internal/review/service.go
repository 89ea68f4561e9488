package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/card"
	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/notification"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

const defaultPendingLimit = 100

// Cards settles card operations and resolves cards by id.
type Cards interface {
	Lookup(ctx context.Context, cardID string) (card.Card, error)
	Reconcile(ctx context.Context, tx ledger.Transaction, approve bool, reference, note string) (ledger.Result, error)
}

// CardTypes resolves fee schedules.
type CardTypes interface {
	Get(ctx context.Context, id string) (cardtype.CardType, error)
}

// SettingsSource provides the current typed system settings.
type SettingsSource interface {
	Settings() sysconfig.Settings
}

// Recorder counts ledger-affecting operations.
type Recorder interface {
	Movement(typ, status string)
}

// Decision is an admin verdict on a pending transaction. FeeOverride replaces
// the quoted refund fee. Reference carries the issuer card id or upstream
// reference when settling card operations.
type Decision struct {
	Approve     bool
	FeeOverride *decimal.Decimal
	Reference   string
	Note        string
}

// Service is the admin back office: it confirms or rejects transactions that
// wait for a human and applies the matching ledger movement atomically with
// the status change.
type Service struct {
	ledger   ledger.Ledger
	cards    Cards
	types    CardTypes
	settings SettingsSource
	notifier notification.Notifier
	metrics  Recorder
	logger   *slog.Logger
}

// NewService builds the review service.
func NewService(l ledger.Ledger, cards Cards, types CardTypes, settings SettingsSource, notifier notification.Notifier, metrics Recorder, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Service{ledger: l, cards: cards, types: types, settings: settings, notifier: notifier, metrics: metrics, logger: logger}
}

// ListPending returns transactions awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.ledger.ListByStatus(ctx, []ledger.Status{ledger.StatusPending, ledger.StatusProcessing}, limit)
}

// Decide confirms or rejects a transaction and returns the updated balances.
// Deciding a terminal transaction fails with apperr.ErrAlreadyProcessed.
func (s *Service) Decide(ctx context.Context, transactionID string, d Decision) (ledger.Result, error) {
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return ledger.Result{}, err
	}
	if tx.Status.Terminal() {
		return ledger.Result{Transaction: tx}, apperr.ErrAlreadyProcessed
	}

	var res ledger.Result
	switch {
	case tx.Type == ledger.TypeRecharge:
		res, err = s.decideRecharge(ctx, tx, d)
	case tx.Type == ledger.TypeWithdraw:
		res, err = s.decideWithdraw(ctx, tx, d)
	case tx.Type == ledger.TypeRefundHold:
		res, err = s.decideRefund(ctx, tx, d)
	case card.Handles(tx.Type):
		res, err = s.cards.Reconcile(ctx, tx, d.Approve, d.Reference, d.Note)
	default:
		return ledger.Result{}, fmt.Errorf("%s transactions are not reviewable: %w", tx.Type, apperr.ErrInvalidInput)
	}
	if err != nil {
		return res, err
	}

	s.logger.Info("review.decided",
		slog.String("transaction_id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.Bool("approve", d.Approve),
		slog.String("status", string(res.Transaction.Status)),
	)
	return res, nil
}

// decideRecharge credits the platform balance once the payment is confirmed
// and pays the first recharge bonus when configured.
func (s *Service) decideRecharge(ctx context.Context, tx ledger.Transaction, d Decision) (ledger.Result, error) {
	if !d.Approve {
		res, err := s.transition(ctx, tx, ledger.StatusFailed, d.Note, nil)
		if err == nil {
			s.notify(ctx, notification.KindRechargeRejected, tx.UserID, "recharge of "+tx.Amount.StringFixed(2)+" USD was rejected")
		}
		return res, err
	}
	res, err := s.transition(ctx, tx, ledger.StatusCompleted, d.Note, []ledger.Posting{
		ledger.Debit(ledger.SystemUpstream, tx.Amount),
		ledger.Credit(ledger.UserAccount(tx.UserID), tx.Amount),
	})
	if err != nil {
		return res, err
	}
	s.notify(ctx, notification.KindRechargeConfirmed, tx.UserID, tx.Amount.StringFixed(2)+" USD added to your balance")
	if err := s.payFirstRechargeBonus(ctx, tx); err != nil {
		s.logger.Error("first recharge bonus failed", slog.String("user_id", tx.UserID), slog.String("error", err.Error()))
	}
	return res, nil
}

func (s *Service) payFirstRechargeBonus(ctx context.Context, tx ledger.Transaction) error {
	if s.settings == nil {
		return nil
	}
	percent := s.settings.Settings().FirstRechargeBonusPercent
	if !percent.IsPositive() {
		return nil
	}
	// Concurrent confirmations race here; the bonus client tx id keeps one
	// payment and it is always priced on the first settled recharge.
	first, err := s.ledger.First(ctx, tx.UserID, ledger.TypeRecharge, ledger.StatusCompleted)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	bonus := first.Amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
	if !bonus.IsPositive() {
		return nil
	}
	_, err = s.ledger.Post(ctx, ledger.Movement{
		Transaction: ledger.Transaction{
			UserID:     tx.UserID,
			Type:       ledger.TypeFirstRechargeBonus,
			Amount:     bonus,
			ClientTxID: "first_recharge:" + tx.UserID,
			Reference:  first.ID,
		},
		Postings: []ledger.Posting{
			ledger.Debit(ledger.SystemRewards, bonus),
			ledger.Credit(ledger.UserAccount(tx.UserID), bonus),
		},
	})
	if errors.Is(err, apperr.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	s.count(ledger.TypeFirstRechargeBonus, ledger.StatusCompleted)
	return nil
}

// decideWithdraw pays out the reserved funds minus the fee, or returns the
// whole reservation to the user.
func (s *Service) decideWithdraw(ctx context.Context, tx ledger.Transaction, d Decision) (ledger.Result, error) {
	reserved := tx.Amount.Neg()
	if !d.Approve {
		res, err := s.transition(ctx, tx, ledger.StatusFailed, d.Note, []ledger.Posting{
			ledger.Debit(ledger.SystemWithdrawHold, reserved),
			ledger.Credit(ledger.UserAccount(tx.UserID), reserved),
		})
		if err == nil {
			s.notify(ctx, notification.KindWithdrawRejected, tx.UserID, reserved.StringFixed(2)+" USD returned to your balance")
		}
		return res, err
	}
	res, err := s.transition(ctx, tx, ledger.StatusCompleted, d.Note, ledger.Postings(
		ledger.Debit(ledger.SystemWithdrawHold, reserved),
		ledger.Credit(ledger.SystemUpstream, reserved.Sub(tx.Fee)),
		ledger.Credit(ledger.SystemRevenue, tx.Fee),
	))
	if err == nil {
		s.notify(ctx, notification.KindWithdrawPaid, tx.UserID, reserved.Sub(tx.Fee).StringFixed(2)+" USD paid out")
	}
	return res, err
}

// decideRefund credits a reconciled card refund to the platform balance net
// of the refund fee.
func (s *Service) decideRefund(ctx context.Context, tx ledger.Transaction, d Decision) (ledger.Result, error) {
	if !d.Approve {
		return s.transition(ctx, tx, ledger.StatusFailed, d.Note, nil)
	}
	fee := tx.Fee
	if d.FeeOverride != nil {
		fee = *d.FeeOverride
	}
	quote, err := fees.RefundWithFee(tx.Amount, fee)
	if err != nil {
		return ledger.Result{}, err
	}
	res, err := s.ledger.Transition(ctx, ledger.Transition{
		TransactionID: tx.ID,
		To:            ledger.StatusCompleted,
		Fee:           &quote.Fee,
		Note:          d.Note,
		Postings: ledger.Postings(
			ledger.Debit(ledger.SystemUpstream, quote.Amount),
			ledger.Credit(ledger.UserAccount(tx.UserID), quote.Net),
			ledger.Credit(ledger.SystemRevenue, quote.Fee),
		),
	})
	if err != nil {
		return res, err
	}
	s.count(tx.Type, ledger.StatusCompleted)
	s.notify(ctx, notification.KindRefundCredited, tx.UserID, "refund of "+quote.Net.StringFixed(2)+" USD credited")
	return res, nil
}

// RefundInput reports a refund received upstream for a card.
type RefundInput struct {
	CardID    string
	Amount    decimal.Decimal
	Reference string
}

// CreateRefundHold records a refund waiting for reconciliation with the fee
// quoted from the card type's schedule.
func (s *Service) CreateRefundHold(ctx context.Context, in RefundInput) (ledger.Transaction, error) {
	if err := fees.ValidateAmount(in.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	c, err := s.cards.Lookup(ctx, in.CardID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	ct, err := s.types.Get(ctx, c.CardTypeID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	quote, err := fees.Refund(in.Amount, ct.Fees)
	if err != nil {
		return ledger.Transaction{}, err
	}
	clientTxID := ""
	if in.Reference != "" {
		clientTxID = c.ID + ":" + in.Reference
	}
	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		UserID:     c.UserID,
		CardID:     c.ID,
		Type:       ledger.TypeRefundHold,
		Amount:     quote.Amount,
		Fee:        quote.Fee,
		Status:     ledger.StatusPending,
		ClientTxID: clientTxID,
		Reference:  in.Reference,
	})
	if err != nil {
		return tx, err
	}
	s.count(ledger.TypeRefundHold, ledger.StatusPending)
	s.logger.Info("refund_hold.created",
		slog.String("card_id", c.ID),
		slog.String("transaction_id", tx.ID),
		slog.String("amount", quote.Amount.String()),
		slog.String("fee", quote.Fee.String()),
	)
	return tx, nil
}

func (s *Service) transition(ctx context.Context, tx ledger.Transaction, to ledger.Status, note string, postings []ledger.Posting) (ledger.Result, error) {
	res, err := s.ledger.Transition(ctx, ledger.Transition{TransactionID: tx.ID, To: to, Postings: postings, Note: note})
	if err != nil {
		return res, err
	}
	s.count(tx.Type, to)
	return res, nil
}

func (s *Service) count(typ ledger.Type, status ledger.Status) {
	if s.metrics != nil {
		s.metrics.Movement(string(typ), string(status))
	}
}

func (s *Service) notify(ctx context.Context, kind, userID, body string) {
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, UserID: userID, Body: body}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}
