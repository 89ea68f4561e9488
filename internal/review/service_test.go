package review

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/card"
	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/funding"
	"github.com/vcard-pay/vcard_pay/internal/issuer"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/logging"
	"github.com/vcard-pay/vcard_pay/internal/notification"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

type staticSettings sysconfig.Settings

func (s staticSettings) Settings() sysconfig.Settings { return sysconfig.Settings(s) }

// timeoutIssuer reports an unknown outcome for every card open.
type timeoutIssuer struct {
	*issuer.Static
}

func (timeoutIssuer) ApplyCard(context.Context, issuer.ApplyCardRequest) (issuer.ApplyCardResponse, error) {
	return issuer.ApplyCardResponse{}, apperr.ErrIndeterminate
}

type env struct {
	review   *Service
	funding  *funding.Service
	cards    *card.Service
	ledger   ledger.Ledger
	cardType cardtype.CardType
	notes    *notification.Recorder
}

func newEnv(t *testing.T, iss issuer.Client) env {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewInMemory()
	for _, code := range ledger.SystemAccounts {
		if err := l.EnsureAccount(ctx, code); err != nil {
			t.Fatalf("ensure %s: %v", code, err)
		}
	}
	if err := l.EnsureAccount(ctx, ledger.UserAccount("u1")); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	settings := sysconfig.Defaults()
	settings.PaymentAddresses = map[string]string{sysconfig.MethodUSDT: "TQ1usdtAddress"}
	settings.FirstRechargeBonusPercent = decimal.NewFromInt(10)

	types := cardtype.NewService(cardtype.NewMemoryRepository(), logging.Discard())
	ct, err := types.Create(ctx, cardtype.Input{
		Name:        "Virtual Visa",
		ProductCode: "VISA01",
		Enabled:     true,
		Fees: fees.Schedule{
			RefundFeePercent:     decimal.NewFromInt(5),
			RefundFeeMin:         decimal.NewFromInt(2),
			SmallRefundFee:       decimal.NewFromInt(3),
			LargeRefundThreshold: decimal.NewFromInt(20),
		},
	})
	if err != nil {
		t.Fatalf("create card type: %v", err)
	}

	notes := &notification.Recorder{}
	cards := card.NewService(card.Options{
		Ledger:   l,
		Cards:    card.NewMemoryRepository(),
		Types:    types,
		Issuer:   iss,
		Notifier: notes,
		Logger:   logging.Discard(),
	})
	fundingSvc, err := funding.NewService(ctx, l, staticSettings(settings), nil, logging.Discard())
	if err != nil {
		t.Fatalf("funding service: %v", err)
	}
	svc := NewService(l, cards, types, staticSettings(settings), notes, nil, logging.Discard())
	return env{review: svc, funding: fundingSvc, cards: cards, ledger: l, cardType: ct, notes: notes}
}

func (e env) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	return bal
}

func TestWithdrawThenRejectRestoresBalance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())
	ledger.SeedBalance(e.ledger, ledger.UserAccount("u1"), decimal.RequireFromString("123.45"))

	res, err := e.funding.RequestWithdraw(ctx, funding.WithdrawInput{UserID: "u1", Amount: decimal.RequireFromString("73.45"), Method: "usdt", Account: "TQ1user"})
	if err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 50 after reservation, got %s", got)
	}

	decided, err := e.review.Decide(ctx, res.Transaction.ID, Decision{Approve: false, Note: "account mismatch"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decided.Transaction.Status != ledger.StatusFailed {
		t.Fatalf("expected failed, got %s", decided.Transaction.Status)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("expected balance restored to 123.45, got %s", got)
	}
	if got := e.balance(t, ledger.SystemWithdrawHold); !got.IsZero() {
		t.Fatalf("expected empty hold, got %s", got)
	}

	if _, err := e.review.Decide(ctx, res.Transaction.ID, Decision{Approve: true}); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestWithdrawApprovePaysOutNetOfFee(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())
	ledger.SeedBalance(e.ledger, ledger.UserAccount("u1"), decimal.NewFromInt(100))

	res, err := e.funding.RequestWithdraw(ctx, funding.WithdrawInput{UserID: "u1", Amount: decimal.NewFromInt(100), Method: "usdt", Account: "TQ1user"})
	if err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	if _, err := e.review.Decide(ctx, res.Transaction.ID, Decision{Approve: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := e.balance(t, ledger.SystemUpstream); !got.Equal(decimal.NewFromInt(96)) {
		t.Fatalf("expected 96 paid upstream, got %s", got)
	}
	if got := e.balance(t, ledger.SystemRevenue); !got.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected fee 4, got %s", got)
	}
	if e.notes.Count(notification.KindWithdrawPaid) != 1 {
		t.Fatal("expected a payout notification")
	}
}

func TestRechargeConfirmationCreditsAndPaysFirstBonusOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())

	first, err := e.funding.RequestRecharge(ctx, funding.RechargeInput{UserID: "u1", Amount: decimal.NewFromInt(100), Method: "usdt"})
	if err != nil {
		t.Fatalf("request recharge: %v", err)
	}
	if _, err := e.review.Decide(ctx, first.Transaction.ID, Decision{Approve: true}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("confirming without proof must fail, got %v", err)
	}
	if _, err := e.funding.SubmitProof(ctx, "u1", first.Transaction.ID, "0xabc"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if _, err := e.review.Decide(ctx, first.Transaction.ID, Decision{Approve: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected 100 + 10 bonus, got %s", got)
	}

	second, err := e.funding.RequestRecharge(ctx, funding.RechargeInput{UserID: "u1", Amount: decimal.NewFromInt(50), Method: "usdt"})
	if err != nil {
		t.Fatalf("request recharge: %v", err)
	}
	if _, err := e.funding.SubmitProof(ctx, "u1", second.Transaction.ID, "0xdef"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if _, err := e.review.Decide(ctx, second.Transaction.ID, Decision{Approve: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("expected no second bonus, got %s", got)
	}
}

// interleavingLedger runs hook once, right before the first bonus lookup.
type interleavingLedger struct {
	ledger.Ledger
	hook func()
}

func (l *interleavingLedger) First(ctx context.Context, userID string, typ ledger.Type, status ledger.Status) (ledger.Transaction, error) {
	if hook := l.hook; hook != nil {
		l.hook = nil
		hook()
	}
	return l.Ledger.First(ctx, userID, typ, status)
}

func TestConcurrentRechargeConfirmationsPayFirstBonusOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())

	var orders []string
	for i, amount := range []int64{100, 50} {
		res, err := e.funding.RequestRecharge(ctx, funding.RechargeInput{UserID: "u1", Amount: decimal.NewFromInt(amount), Method: "usdt"})
		if err != nil {
			t.Fatalf("request recharge %d: %v", i, err)
		}
		if _, err := e.funding.SubmitProof(ctx, "u1", res.Transaction.ID, "0x"+res.Transaction.ID); err != nil {
			t.Fatalf("submit proof %d: %v", i, err)
		}
		orders = append(orders, res.Transaction.ID)
	}

	settings := sysconfig.Defaults()
	settings.FirstRechargeBonusPercent = decimal.NewFromInt(10)
	racing := &interleavingLedger{Ledger: e.ledger}
	svc := NewService(racing, e.cards, nil, staticSettings(settings), e.notes, nil, logging.Discard())
	racing.hook = func() {
		if _, err := svc.Decide(ctx, orders[1], Decision{Approve: true}); err != nil {
			t.Errorf("confirm second: %v", err)
		}
	}

	if _, err := svc.Decide(ctx, orders[0], Decision{Approve: true}); err != nil {
		t.Fatalf("confirm first: %v", err)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("expected 100 + 50 + 10 bonus, got %s", got)
	}
	bonus, err := e.ledger.Lookup(ctx, ledger.TypeFirstRechargeBonus, "first_recharge:u1")
	if err != nil {
		t.Fatalf("lookup bonus: %v", err)
	}
	if bonus.Reference != orders[0] {
		t.Fatalf("bonus must reference the first settled recharge %s, got %s", orders[0], bonus.Reference)
	}
}

func TestRejectedRechargeMovesNoFunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())

	order, err := e.funding.RequestRecharge(ctx, funding.RechargeInput{UserID: "u1", Amount: decimal.NewFromInt(30), Method: "usdt"})
	if err != nil {
		t.Fatalf("request recharge: %v", err)
	}
	res, err := e.review.Decide(ctx, order.Transaction.ID, Decision{Approve: false})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Transaction.Status != ledger.StatusFailed {
		t.Fatalf("expected failed, got %s", res.Transaction.Status)
	}
	if got := e.balance(t, ledger.UserAccount("u1")); !got.IsZero() {
		t.Fatalf("expected no credit, got %s", got)
	}
}

func openCard(t *testing.T, e env) card.Card {
	t.Helper()
	ledger.SeedBalance(e.ledger, ledger.UserAccount("u1"), decimal.NewFromInt(50))
	out, err := e.cards.Open(context.Background(), card.OpenInput{UserID: "u1", CardTypeID: e.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("open card: %v", err)
	}
	return out.Card
}

func TestSmallRefundUsesFlatFee(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())
	c := openCard(t, e)

	hold, err := e.review.CreateRefundHold(ctx, RefundInput{CardID: c.ID, Amount: decimal.NewFromInt(15), Reference: "merchant-refund-1"})
	if err != nil {
		t.Fatalf("create refund hold: %v", err)
	}
	if !hold.Fee.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected flat fee 3, got %s", hold.Fee)
	}
	if _, err := e.review.CreateRefundHold(ctx, RefundInput{CardID: c.ID, Amount: decimal.NewFromInt(15), Reference: "merchant-refund-1"}); !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected duplicate refund, got %v", err)
	}

	before := e.balance(t, ledger.UserAccount("u1"))
	res, err := e.review.Decide(ctx, hold.ID, Decision{Approve: true})
	if err != nil {
		t.Fatalf("confirm refund: %v", err)
	}
	if got := e.balance(t, ledger.UserAccount("u1")).Sub(before); !got.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected net 12 credited, got %s", got)
	}
	if res.Transaction.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Transaction.Status)
	}
}

func TestRefundFeeOverride(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, issuer.NewStatic())
	c := openCard(t, e)

	hold, err := e.review.CreateRefundHold(ctx, RefundInput{CardID: c.ID, Amount: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create refund hold: %v", err)
	}
	if !hold.Fee.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected percent fee 5, got %s", hold.Fee)
	}
	before := e.balance(t, ledger.UserAccount("u1"))
	override := decimal.NewFromInt(1)
	res, err := e.review.Decide(ctx, hold.ID, Decision{Approve: true, FeeOverride: &override})
	if err != nil {
		t.Fatalf("confirm refund: %v", err)
	}
	if !res.Transaction.Fee.Equal(override) {
		t.Fatalf("expected stored fee 1, got %s", res.Transaction.Fee)
	}
	if got := e.balance(t, ledger.UserAccount("u1")).Sub(before); !got.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected net 99 credited, got %s", got)
	}
}

func TestDecideSettlesPendingCardOpen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, timeoutIssuer{Static: issuer.NewStatic()})
	ledger.SeedBalance(e.ledger, ledger.UserAccount("u1"), decimal.NewFromInt(50))

	out, err := e.cards.Open(ctx, card.OpenInput{UserID: "u1", CardTypeID: e.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrIndeterminate) {
		t.Fatalf("expected indeterminate, got %v", err)
	}

	pending, err := e.review.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != out.Transaction.ID {
		t.Fatalf("expected the pending open in the queue, got %+v", pending)
	}

	if _, err := e.review.Decide(ctx, out.Transaction.ID, Decision{Approve: true, Reference: "issuer-card-1"}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	settled, err := e.cards.Lookup(ctx, out.Card.ID)
	if err != nil {
		t.Fatalf("lookup card: %v", err)
	}
	if settled.Status != issuer.CardStatusActive || settled.ExternalID != "issuer-card-1" {
		t.Fatalf("unexpected card after settlement %+v", settled)
	}
	if got := e.balance(t, settled.AccountCode()); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected card balance 10, got %s", got)
	}
	if got := e.balance(t, ledger.SystemSuspense); !got.IsZero() {
		t.Fatalf("expected empty suspense, got %s", got)
	}
}
