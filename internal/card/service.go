package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/issuer"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/lock"
	"github.com/vcard-pay/vcard_pay/internal/notification"
)

const (
	defaultIssuerTimeout = 15 * time.Second
	defaultLockWait      = 10 * time.Second

	policyFlat   = "flat"
	policyTiered = "tiered"
)

// CardTypes resolves card types and their fee schedules.
type CardTypes interface {
	Get(ctx context.Context, id string) (cardtype.CardType, error)
	Available(ctx context.Context, id string) (cardtype.CardType, error)
}

// Rewarder pays the referral reward after a user's first card open.
type Rewarder interface {
	Reward(ctx context.Context, referredUserID string) (bool, error)
}

// Recorder counts ledger-affecting operations.
type Recorder interface {
	Movement(typ, status string)
}

// Options wires a Service.
type Options struct {
	Ledger        ledger.Ledger
	Cards         Repository
	Types         CardTypes
	Issuer        issuer.Client
	Locker        lock.Locker
	Referral      Rewarder
	Notifier      notification.Notifier
	Metrics       Recorder
	Logger        *slog.Logger
	IssuerTimeout time.Duration
	LockWait      time.Duration
}

// Service runs card operations. Every money movement follows the same
// pipeline: validate, lock the user, quote fees, check the source balance,
// call the issuer and only then post to the ledger.
type Service struct {
	ledger        ledger.Ledger
	cards         Repository
	types         CardTypes
	issuer        issuer.Client
	locker        lock.Locker
	referral      Rewarder
	notifier      notification.Notifier
	metrics       Recorder
	logger        *slog.Logger
	issuerTimeout time.Duration
	lockWait      time.Duration
	now           func() time.Time
}

// NewService builds a card service.
func NewService(o Options) *Service {
	s := &Service{
		ledger:        o.Ledger,
		cards:         o.Cards,
		types:         o.Types,
		issuer:        o.Issuer,
		locker:        o.Locker,
		referral:      o.Referral,
		notifier:      o.Notifier,
		metrics:       o.Metrics,
		logger:        o.Logger,
		issuerTimeout: o.IssuerTimeout,
		lockWait:      o.LockWait,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if s.issuerTimeout <= 0 {
		s.issuerTimeout = defaultIssuerTimeout
	}
	if s.lockWait <= 0 {
		s.lockWait = defaultLockWait
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notification.NewLoggerNotifier(o.Logger)
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	return s
}

type noopRecorder struct{}

func (noopRecorder) Movement(string, string) {}

// OpenInput requests a new card funded with InitialAmount from the platform balance.
type OpenInput struct {
	UserID        string
	CardTypeID    string
	InitialAmount decimal.Decimal
	RequestID     string
}

// RechargeInput moves Amount from the platform balance onto a card.
type RechargeInput struct {
	UserID    string
	CardID    string
	Amount    decimal.Decimal
	RequestID string
}

// WithdrawInput moves Amount from a card back to the platform balance.
type WithdrawInput struct {
	UserID    string
	CardID    string
	Amount    decimal.Decimal
	RequestID string
}

// movement is one card money movement prepared for execute.
type movement struct {
	tx     ledger.Transaction
	source string
	hold   decimal.Decimal
	settle []ledger.Posting
}

// Open provisions a card at the issuer and charges openFee + initial + recharge fee.
func (s *Service) Open(ctx context.Context, in OpenInput) (Outcome, error) {
	if err := fees.ValidateAmount(in.InitialAmount); err != nil {
		return Outcome{}, err
	}
	ct, err := s.types.Available(ctx, in.CardTypeID)
	if err != nil {
		return Outcome{}, err
	}
	quote, err := fees.OpenCard(in.InitialAmount, ct.Fees)
	if err != nil {
		return Outcome{}, err
	}

	now := s.now()
	card := Card{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		CardTypeID: ct.ID,
		Status:     issuer.CardStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	clientTxID := scopedRequestID(in.UserID, in.RequestID)
	m := movement{
		tx: ledger.Transaction{
			UserID:     in.UserID,
			CardID:     card.ID,
			Type:       ledger.TypeOpenCard,
			Amount:     quote.Total.Neg(),
			Fee:        quote.Fee,
			ClientTxID: clientTxID,
		},
		source: ledger.UserAccount(in.UserID),
		hold:   quote.Total,
		settle: ledger.Postings(
			ledger.Debit(ledger.UserAccount(in.UserID), quote.Total),
			ledger.Credit(card.AccountCode(), quote.Amount),
			ledger.Credit(ledger.SystemRevenue, quote.Fee),
		),
	}

	res, replayed, err := s.execute(ctx, m, func(cctx context.Context) (string, error) {
		// The card row exists before the issuer is asked so every outcome
		// leaves something to reconcile against.
		if err := s.ledger.EnsureAccount(ctx, card.AccountCode()); err != nil {
			return "", localError{err}
		}
		if err := s.cards.Create(ctx, card); err != nil {
			return "", localError{err}
		}

		resp, callErr := s.issuer.ApplyCard(cctx, issuer.ApplyCardRequest{
			RequestID:        clientTxID,
			ProductCode:      ct.ProductCode,
			InitBalanceCents: issuer.Cents(quote.Amount),
		})
		switch {
		case callErr == nil:
			card.ExternalID = resp.CardID
			if resp.Status != "" {
				card.Status = resp.Status
			}
			card.UpdatedAt = s.now()
			if err := s.cards.Update(ctx, card); err != nil {
				// The issuer holds a funded card we failed to record.
				return resp.CardID, fmt.Errorf("store issued card %s: %v: %w", resp.CardID, err, apperr.ErrIndeterminate)
			}
			return resp.CardID, nil
		case isIndeterminate(callErr):
			return "", callErr
		default:
			if err := s.cards.Delete(ctx, card.ID); err != nil {
				s.logger.Warn("discarding declined card failed", slog.String("card_id", card.ID), slog.String("error", err.Error()))
			}
			return "", callErr
		}
	})
	if replayed {
		stored, gerr := s.cards.Get(ctx, res.Transaction.CardID)
		if gerr != nil {
			return Outcome{}, gerr
		}
		return Outcome{Card: stored, Transaction: res.Transaction, Quote: quote, Replayed: true}, nil
	}
	out := Outcome{Card: card, Transaction: res.Transaction, Quote: quote, Balances: res.Balances}
	if err != nil {
		return out, err
	}

	s.logger.Info("card.open completed",
		slog.String("user_id", in.UserID),
		slog.String("card_id", card.ID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("total", quote.Total.String()),
	)
	s.notify(ctx, notification.KindCardOpened, in.UserID, "card opened with "+quote.Amount.StringFixed(2)+" USD")
	s.rewardReferrer(ctx, in.UserID)
	return out, nil
}

// Recharge moves funds from the platform balance onto an active card.
func (s *Service) Recharge(ctx context.Context, in RechargeInput) (Outcome, error) {
	if err := fees.ValidateAmount(in.Amount); err != nil {
		return Outcome{}, err
	}
	card, err := s.activeCard(ctx, in.UserID, in.CardID)
	if err != nil {
		return Outcome{}, err
	}
	ct, err := s.types.Get(ctx, card.CardTypeID)
	if err != nil {
		return Outcome{}, err
	}
	quote, err := fees.CardRecharge(in.Amount, ct.Fees)
	if err != nil {
		return Outcome{}, err
	}

	clientTxID := scopedRequestID(in.UserID, in.RequestID)
	m := movement{
		tx: ledger.Transaction{
			UserID:     in.UserID,
			CardID:     card.ID,
			Type:       ledger.TypeCardRecharge,
			Amount:     quote.Total.Neg(),
			Fee:        quote.Fee,
			ClientTxID: clientTxID,
		},
		source: ledger.UserAccount(in.UserID),
		hold:   quote.Total,
		settle: ledger.Postings(
			ledger.Debit(ledger.UserAccount(in.UserID), quote.Total),
			ledger.Credit(card.AccountCode(), quote.Amount),
			ledger.Credit(ledger.SystemRevenue, quote.Fee),
		),
	}
	res, replayed, err := s.execute(ctx, m, func(cctx context.Context) (string, error) {
		ack, err := s.issuer.RechargeCard(cctx, issuer.BalanceRequest{RequestID: clientTxID, CardID: card.ExternalID, Amount: quote.Amount})
		return ack.Reference, err
	})
	out := Outcome{Card: card, Transaction: res.Transaction, Quote: quote, Balances: res.Balances, Replayed: replayed}
	if err != nil || replayed {
		return out, err
	}
	s.logger.Info("card.recharge completed",
		slog.String("user_id", in.UserID),
		slog.String("card_id", card.ID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("amount", quote.Amount.String()),
		slog.String("fee", quote.Fee.String()),
	)
	s.notify(ctx, notification.KindCardRecharged, in.UserID, "card recharged with "+quote.Amount.StringFixed(2)+" USD")
	return out, nil
}

// Withdraw moves funds from a card to the platform balance with the flat 2% fee.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (Outcome, error) {
	quote, err := fees.CardWithdrawFlat(in.Amount)
	if err != nil {
		return Outcome{}, err
	}
	return s.withdraw(ctx, in, quote, policyFlat)
}

// WithdrawToAccount moves funds from a card to the platform balance with the
// tiered fee ladder.
func (s *Service) WithdrawToAccount(ctx context.Context, in WithdrawInput) (Outcome, error) {
	quote, err := fees.CardWithdrawTiered(in.Amount)
	if err != nil {
		return Outcome{}, err
	}
	return s.withdraw(ctx, in, quote, policyTiered)
}

func (s *Service) withdraw(ctx context.Context, in WithdrawInput, quote fees.Quote, policy string) (Outcome, error) {
	card, err := s.activeCard(ctx, in.UserID, in.CardID)
	if err != nil {
		return Outcome{}, err
	}
	clientTxID := scopedRequestID(in.UserID, in.RequestID)
	m := movement{
		tx: ledger.Transaction{
			UserID:     in.UserID,
			CardID:     card.ID,
			Type:       ledger.TypeCardWithdraw,
			Amount:     quote.Net,
			Fee:        quote.Fee,
			ClientTxID: clientTxID,
			Note:       policy + " fee",
		},
		source: card.AccountCode(),
		hold:   quote.Amount,
		settle: ledger.Postings(
			ledger.Debit(card.AccountCode(), quote.Amount),
			ledger.Credit(ledger.UserAccount(in.UserID), quote.Net),
			ledger.Credit(ledger.SystemRevenue, quote.Fee),
		),
	}
	res, replayed, err := s.execute(ctx, m, func(cctx context.Context) (string, error) {
		ack, err := s.issuer.WithdrawFromCard(cctx, issuer.BalanceRequest{RequestID: clientTxID, CardID: card.ExternalID, Amount: quote.Amount})
		return ack.Reference, err
	})
	out := Outcome{Card: card, Transaction: res.Transaction, Quote: quote, Balances: res.Balances, Replayed: replayed}
	if err != nil || replayed {
		return out, err
	}
	s.logger.Info("card.withdraw completed",
		slog.String("user_id", in.UserID),
		slog.String("card_id", card.ID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("policy", policy),
		slog.String("net", quote.Net.String()),
	)
	s.notify(ctx, notification.KindCardWithdrawn, in.UserID, quote.Net.StringFixed(2)+" USD moved to your balance")
	return out, nil
}

// execute runs one movement under the user's lock. A repeated client tx id
// returns the stored transaction with replayed set. An unknown issuer outcome
// parks the held funds in suspense under a pending transaction and returns
// apperr.ErrIndeterminate.
func (s *Service) execute(ctx context.Context, m movement, call func(context.Context) (string, error)) (ledger.Result, bool, error) {
	unlock, err := s.lockUser(ctx, m.tx.UserID)
	if err != nil {
		return ledger.Result{}, false, err
	}
	defer unlock()

	prior, err := s.ledger.Lookup(ctx, m.tx.Type, m.tx.ClientTxID)
	switch {
	case err == nil:
		return ledger.Result{Transaction: prior}, true, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return ledger.Result{}, false, err
	}

	available, err := s.ledger.Balance(ctx, m.source)
	if err != nil {
		return ledger.Result{}, false, err
	}
	if available.LessThan(m.hold) {
		s.metrics.Movement(string(m.tx.Type), "rejected")
		return ledger.Result{}, false, fmt.Errorf("%s needs %s, has %s: %w",
			m.source, m.hold.StringFixed(2), available.StringFixed(2), apperr.ErrInsufficientBalance)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.issuerTimeout)
	reference, callErr := call(callCtx)
	cancel()
	m.tx.Reference = reference

	var local localError
	switch {
	case callErr == nil:
		m.tx.Status = ledger.StatusCompleted
		res, err := s.ledger.Post(ctx, ledger.Movement{Transaction: m.tx, Postings: m.settle})
		if err != nil {
			s.logger.Error("ledger post failed after issuer success",
				slog.String("type", string(m.tx.Type)),
				slog.String("user_id", m.tx.UserID),
				slog.String("client_tx_id", m.tx.ClientTxID),
				slog.String("error", err.Error()),
			)
			return ledger.Result{}, false, err
		}
		s.metrics.Movement(string(m.tx.Type), string(ledger.StatusCompleted))
		return res, false, nil

	case isIndeterminate(callErr):
		m.tx.Status = ledger.StatusPending
		m.tx.Note = "issuer outcome unknown"
		res, err := s.ledger.Post(ctx, ledger.Movement{
			Transaction: m.tx,
			Postings: []ledger.Posting{
				ledger.Debit(m.source, m.hold),
				ledger.Credit(ledger.SystemSuspense, m.hold),
			},
		})
		if err != nil {
			return ledger.Result{}, false, err
		}
		s.metrics.Movement(string(m.tx.Type), string(ledger.StatusPending))
		s.logger.Warn("issuer outcome unknown, pending reconciliation",
			slog.String("type", string(m.tx.Type)),
			slog.String("user_id", m.tx.UserID),
			slog.String("transaction_id", res.Transaction.ID),
			slog.String("error", callErr.Error()),
		)
		s.notify(ctx, notification.KindReconcileNeeded, m.tx.UserID, "operation pending confirmation")
		return res, false, fmt.Errorf("transaction %s: %w", res.Transaction.ID, apperr.ErrIndeterminate)

	case errors.As(callErr, &local):
		s.logger.Error("local write before issuer call failed",
			slog.String("type", string(m.tx.Type)),
			slog.String("user_id", m.tx.UserID),
			slog.String("error", local.Error()),
		)
		return ledger.Result{}, false, local.err

	default:
		s.metrics.Movement(string(m.tx.Type), string(ledger.StatusFailed))
		s.logger.Warn("issuer call failed",
			slog.String("type", string(m.tx.Type)),
			slog.String("user_id", m.tx.UserID),
			slog.String("error", callErr.Error()),
		)
		if errors.Is(callErr, apperr.ErrExternalService) {
			return ledger.Result{}, false, callErr
		}
		return ledger.Result{}, false, fmt.Errorf("%v: %w", callErr, apperr.ErrExternalService)
	}
}

func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	return s.locker.Lock(lockCtx, "user:"+userID)
}

// List returns the user's cards with their ledger balances.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	cards, err := s.cards.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(cards))
	for _, c := range cards {
		bal, err := s.balance(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, View{Card: c, Balance: bal})
	}
	return out, nil
}

// Get returns one of the user's cards.
func (s *Service) Get(ctx context.Context, userID, cardID string) (View, error) {
	c, err := s.owned(ctx, userID, cardID)
	if err != nil {
		return View{}, err
	}
	bal, err := s.balance(ctx, c)
	if err != nil {
		return View{}, err
	}
	return View{Card: c, Balance: bal}, nil
}

// Lookup returns any card by id (admin).
func (s *Service) Lookup(ctx context.Context, cardID string) (Card, error) {
	return s.cards.Get(ctx, cardID)
}

// Sync re-fetches the issuer's view of a card and mirrors its status and
// masked number. Balances are compared, never overwritten.
func (s *Service) Sync(ctx context.Context, userID, cardID string) (SyncResult, error) {
	c, err := s.owned(ctx, userID, cardID)
	if err != nil {
		return SyncResult{}, err
	}
	if c.ExternalID == "" {
		return SyncResult{}, fmt.Errorf("card %s is not provisioned yet: %w", c.ID, apperr.ErrInvalidInput)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.issuerTimeout)
	detail, err := s.issuer.GetCardDetail(callCtx, c.ExternalID)
	cancel()
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{UpstreamBalance: detail.AvailableBalance}
	changed := false
	if knownStatus(detail.Status) && detail.Status != c.Status {
		result.PreviousStatus = c.Status
		result.StatusChanged = true
		c.Status = detail.Status
		changed = true
	}
	if detail.MaskedNumber != "" && detail.MaskedNumber != c.MaskedNumber {
		c.MaskedNumber = detail.MaskedNumber
		changed = true
	}
	if changed {
		c.UpdatedAt = s.now()
		if err := s.cards.Update(ctx, c); err != nil {
			return SyncResult{}, err
		}
	}
	result.Card = c

	bal, err := s.balance(ctx, c)
	if err != nil {
		return SyncResult{}, err
	}
	result.LedgerBalance = bal
	result.Drift = detail.AvailableBalance.Sub(bal)
	if !result.Drift.IsZero() {
		s.logger.Warn("card balance drift",
			slog.String("card_id", c.ID),
			slog.String("upstream", detail.AvailableBalance.String()),
			slog.String("ledger", bal.String()),
		)
	}
	return result, nil
}

func (s *Service) balance(ctx context.Context, c Card) (decimal.Decimal, error) {
	bal, err := s.ledger.Balance(ctx, c.AccountCode())
	if errors.Is(err, apperr.ErrNotFound) {
		return decimal.Zero, nil
	}
	return bal, err
}

// owned loads a card and hides cards of other users behind ErrNotFound.
func (s *Service) owned(ctx context.Context, userID, cardID string) (Card, error) {
	c, err := s.cards.Get(ctx, cardID)
	if err != nil {
		return Card{}, err
	}
	if c.UserID != userID {
		return Card{}, fmt.Errorf("card %s: %w", cardID, apperr.ErrNotFound)
	}
	return c, nil
}

func (s *Service) activeCard(ctx context.Context, userID, cardID string) (Card, error) {
	c, err := s.owned(ctx, userID, cardID)
	if err != nil {
		return Card{}, err
	}
	if c.Status != issuer.CardStatusActive || c.ExternalID == "" {
		return Card{}, fmt.Errorf("card %s is %s: %w", c.ID, c.Status, apperr.ErrInvalidInput)
	}
	return c, nil
}

func (s *Service) rewardReferrer(ctx context.Context, userID string) {
	if s.referral == nil {
		return
	}
	if _, err := s.referral.Reward(ctx, userID); err != nil {
		s.logger.Error("referral reward failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func (s *Service) notify(ctx context.Context, kind, userID, body string) {
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, UserID: userID, Body: body}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

// scopedRequestID namespaces client request ids per user so two users can
// never collide on the same key.
func scopedRequestID(userID, requestID string) string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return userID + ":" + requestID
}

// localError marks a failed local write made before the issuer was called.
type localError struct{ err error }

func (e localError) Error() string { return e.err.Error() }
func (e localError) Unwrap() error { return e.err }

func isIndeterminate(err error) bool {
	return errors.Is(err, apperr.ErrIndeterminate) || errors.Is(err, context.DeadlineExceeded)
}

func knownStatus(status string) bool {
	switch status {
	case issuer.CardStatusPending, issuer.CardStatusActive, issuer.CardStatusFrozen, issuer.CardStatusCancelled:
		return true
	}
	return false
}
