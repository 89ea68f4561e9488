package card

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/issuer"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/logging"
	"github.com/vcard-pay/vcard_pay/internal/notification"
	"github.com/vcard-pay/vcard_pay/internal/referral"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

// scriptedIssuer fails the next call with a queued error and otherwise
// behaves like the mock issuer.
type scriptedIssuer struct {
	*issuer.Static
	mu    sync.Mutex
	next  error
	calls int
}

func (s *scriptedIssuer) failNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = err
}

func (s *scriptedIssuer) take() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	err := s.next
	s.next = nil
	return err
}

func (s *scriptedIssuer) ApplyCard(ctx context.Context, req issuer.ApplyCardRequest) (issuer.ApplyCardResponse, error) {
	if err := s.take(); err != nil {
		return issuer.ApplyCardResponse{}, err
	}
	return s.Static.ApplyCard(ctx, req)
}

func (s *scriptedIssuer) RechargeCard(ctx context.Context, req issuer.BalanceRequest) (issuer.Ack, error) {
	if err := s.take(); err != nil {
		return issuer.Ack{}, err
	}
	return s.Static.RechargeCard(ctx, req)
}

func (s *scriptedIssuer) WithdrawFromCard(ctx context.Context, req issuer.BalanceRequest) (issuer.Ack, error) {
	if err := s.take(); err != nil {
		return issuer.Ack{}, err
	}
	return s.Static.WithdrawFromCard(ctx, req)
}

// flakyRepository fails card writes on demand.
type flakyRepository struct {
	Repository
	createErr error
	updateErr error
}

func (r *flakyRepository) Create(ctx context.Context, c Card) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.Repository.Create(ctx, c)
}

func (r *flakyRepository) Update(ctx context.Context, c Card) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.Repository.Update(ctx, c)
}

type staticSettings sysconfig.Settings

func (s staticSettings) Settings() sysconfig.Settings { return sysconfig.Settings(s) }

type fixture struct {
	svc      *Service
	ledger   ledger.Ledger
	issuer   *scriptedIssuer
	cards    *flakyRepository
	cardType cardtype.CardType
	notes    *notification.Recorder
}

func newFixture(t *testing.T, schedule fees.Schedule, rewarder Rewarder) fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewInMemory()
	for _, code := range ledger.SystemAccounts {
		if err := l.EnsureAccount(ctx, code); err != nil {
			t.Fatalf("ensure %s: %v", code, err)
		}
	}
	types := cardtype.NewService(cardtype.NewMemoryRepository(), logging.Discard())
	ct, err := types.Create(ctx, cardtype.Input{Name: "Virtual Visa", ProductCode: "VISA01", Enabled: true, Fees: schedule})
	if err != nil {
		t.Fatalf("create card type: %v", err)
	}
	iss := &scriptedIssuer{Static: issuer.NewStatic()}
	notes := &notification.Recorder{}
	cards := &flakyRepository{Repository: NewMemoryRepository()}
	svc := NewService(Options{
		Ledger:   l,
		Cards:    cards,
		Types:    types,
		Issuer:   iss,
		Referral: rewarder,
		Notifier: notes,
		Logger:   logging.Discard(),
	})
	return fixture{svc: svc, ledger: l, issuer: iss, cards: cards, cardType: ct, notes: notes}
}

func (f fixture) fund(t *testing.T, userID string, amount string) {
	t.Helper()
	if err := f.ledger.EnsureAccount(context.Background(), ledger.UserAccount(userID)); err != nil {
		t.Fatalf("ensure user account: %v", err)
	}
	ledger.SeedBalance(f.ledger, ledger.UserAccount(userID), decimal.RequireFromString(amount))
}

func (f fixture) open(t *testing.T, userID, initial string) Outcome {
	t.Helper()
	out, err := f.svc.Open(context.Background(), OpenInput{
		UserID:        userID,
		CardTypeID:    f.cardType.ID,
		InitialAmount: decimal.RequireFromString(initial),
	})
	if err != nil {
		t.Fatalf("open card: %v", err)
	}
	return out
}

func (f fixture) expectBalance(t *testing.T, code, want string) {
	t.Helper()
	got, err := f.ledger.Balance(context.Background(), code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", code, want, got.String())
	}
}

func defaultSchedule() fees.Schedule {
	return fees.Schedule{OpenFee: decimal.NewFromInt(2), RechargeFeePercent: decimal.NewFromInt(2)}
}

func TestOpenCardChargesOpenFeeInitialAndRechargeFee(t *testing.T) {
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")

	out := f.open(t, "u1", "10")

	if !out.Quote.Total.Equal(decimal.RequireFromString("12.2")) {
		t.Fatalf("expected total 12.2, got %s", out.Quote.Total)
	}
	if out.Card.Status != issuer.CardStatusActive || out.Card.ExternalID == "" {
		t.Fatalf("expected active provisioned card, got %+v", out.Card)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "37.8")
	f.expectBalance(t, out.Card.AccountCode(), "10")
	f.expectBalance(t, ledger.SystemRevenue, "2.2")

	txs, err := f.ledger.ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(txs))
	}
	if txs[0].Type != ledger.TypeOpenCard || !txs[0].Amount.Equal(decimal.RequireFromString("-12.2")) {
		t.Fatalf("unexpected transaction: type=%s amount=%s", txs[0].Type, txs[0].Amount)
	}
	if f.notes.Count(notification.KindCardOpened) != 1 {
		t.Fatal("expected a card opened notification")
	}
}

func TestOpenCardRejectsUnaffordableBeforeCallingIssuer(t *testing.T) {
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "12.19")

	_, err := f.svc.Open(context.Background(), OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if f.issuer.calls != 0 {
		t.Fatalf("issuer must not be called, got %d calls", f.issuer.calls)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "12.19")
}

func TestOpenCardRejectsInvalidAmount(t *testing.T) {
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")

	for _, amount := range []string{"0", "-5"} {
		_, err := f.svc.Open(context.Background(), OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.RequireFromString(amount)})
		if !errors.Is(err, apperr.ErrInvalidAmount) {
			t.Fatalf("amount %s: expected invalid amount, got %v", amount, err)
		}
	}
}

func TestExternalFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")
	f.issuer.failNext(fmt.Errorf("declined: %w", apperr.ErrExternalService))

	_, err := f.svc.Open(context.Background(), OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "50")
	cards, _ := f.svc.List(context.Background(), "u1")
	if len(cards) != 0 {
		t.Fatalf("expected no cards, got %d", len(cards))
	}
	txs, _ := f.ledger.ListByUser(context.Background(), "u1", 10)
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestOpenStoreFailureBeforeIssuerCallIsNotAnIssuerError(t *testing.T) {
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")
	f.cards.createErr = errors.New("db down")

	_, err := f.svc.Open(context.Background(), OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if err == nil || errors.Is(err, apperr.ErrExternalService) || errors.Is(err, apperr.ErrIndeterminate) {
		t.Fatalf("expected a plain local error, got %v", err)
	}
	if f.issuer.calls != 0 {
		t.Fatalf("issuer must not be called, got %d calls", f.issuer.calls)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "50")
}

func TestOpenStoreFailureAfterIssuerSuccessIsReconcilable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")
	f.cards.updateErr = errors.New("db down")

	out, err := f.svc.Open(ctx, OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrIndeterminate) {
		t.Fatalf("expected indeterminate, got %v", err)
	}
	if f.issuer.calls != 1 {
		t.Fatalf("expected one issuer call, got %d", f.issuer.calls)
	}
	if out.Transaction.Status != ledger.StatusPending || out.Transaction.Reference == "" {
		t.Fatalf("expected a pending transaction carrying the issuer card id, got %+v", out.Transaction)
	}
	// 10 + 2 open fee + 0.2 recharge fee parked.
	f.expectBalance(t, ledger.UserAccount("u1"), "37.8")
	f.expectBalance(t, ledger.SystemSuspense, "12.2")

	// Once storage recovers the admin can settle with the recorded issuer id.
	f.cards.updateErr = nil
	if _, err := f.svc.Reconcile(ctx, out.Transaction, true, "", "confirmed upstream"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	stored, err := f.svc.Lookup(ctx, out.Card.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.ExternalID != out.Transaction.Reference || stored.Status != issuer.CardStatusActive {
		t.Fatalf("card not settled: %+v", stored)
	}
	f.expectBalance(t, ledger.SystemSuspense, "0")
	f.expectBalance(t, stored.AccountCode(), "10")
}

func TestIndeterminateRechargeParksFundsInSuspense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")
	opened := f.open(t, "u1", "10")

	f.issuer.failNext(fmt.Errorf("timeout: %w", apperr.ErrIndeterminate))
	out, err := f.svc.Recharge(ctx, RechargeInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrIndeterminate) {
		t.Fatalf("expected indeterminate, got %v", err)
	}
	if out.Transaction.Status != ledger.StatusPending {
		t.Fatalf("expected pending transaction, got %s", out.Transaction.Status)
	}
	// 37.8 - 10.2 held; the card is untouched until reconciled.
	f.expectBalance(t, ledger.UserAccount("u1"), "27.6")
	f.expectBalance(t, ledger.SystemSuspense, "10.2")
	f.expectBalance(t, opened.Card.AccountCode(), "10")
	if f.notes.Count(notification.KindReconcileNeeded) != 1 {
		t.Fatal("expected a reconcile notification")
	}

	res, err := f.svc.Reconcile(ctx, out.Transaction, true, "ref-1", "confirmed upstream")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Transaction.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Transaction.Status)
	}
	f.expectBalance(t, ledger.SystemSuspense, "0")
	f.expectBalance(t, opened.Card.AccountCode(), "20")
	f.expectBalance(t, ledger.SystemRevenue, "2.4")

	if _, err := f.svc.Reconcile(ctx, res.Transaction, false, "", ""); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestIndeterminateOpenRejectedRefundsUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")

	f.issuer.failNext(context.DeadlineExceeded)
	out, err := f.svc.Open(ctx, OpenInput{UserID: "u1", CardTypeID: f.cardType.ID, InitialAmount: decimal.NewFromInt(10)})
	if !errors.Is(err, apperr.ErrIndeterminate) {
		t.Fatalf("expected indeterminate, got %v", err)
	}
	if out.Card.Status != issuer.CardStatusPending {
		t.Fatalf("expected pending card, got %s", out.Card.Status)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "37.8")
	f.expectBalance(t, ledger.SystemSuspense, "12.2")

	if _, err := f.svc.Reconcile(ctx, out.Transaction, true, "", ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("approving an unprovisioned open needs the issuer card id, got %v", err)
	}
	if _, err := f.svc.Reconcile(ctx, out.Transaction, false, "", "not issued"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "50")
	f.expectBalance(t, ledger.SystemSuspense, "0")

	view, err := f.svc.Get(ctx, "u1", out.Card.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if view.Status != issuer.CardStatusCancelled {
		t.Fatalf("expected cancelled card, got %s", view.Status)
	}
}

func TestReplayedRequestDoesNotChargeTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSchedule(), nil)
	f.fund(t, "u1", "50")
	opened := f.open(t, "u1", "10")

	in := RechargeInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(5), RequestID: "req-1"}
	first, err := f.svc.Recharge(ctx, in)
	if err != nil {
		t.Fatalf("recharge: %v", err)
	}
	second, err := f.svc.Recharge(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Transaction.ID, second.Transaction)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "32.7")

	// Another user may reuse the same request id.
	f.fund(t, "u2", "50")
	other := f.open(t, "u2", "10")
	if _, err := f.svc.Recharge(ctx, RechargeInput{UserID: "u2", CardID: other.Card.ID, Amount: decimal.NewFromInt(5), RequestID: "req-1"}); err != nil {
		t.Fatalf("recharge for second user: %v", err)
	}
	f.expectBalance(t, ledger.UserAccount("u2"), "32.7")
}

func TestConcurrentRechargesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fees.Schedule{}, nil)
	f.fund(t, "u1", "40")
	opened := f.open(t, "u1", "10")

	const workers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Recharge(ctx, RechargeInput{
				UserID:    "u1",
				CardID:    opened.Card.ID,
				Amount:    decimal.NewFromInt(20),
				RequestID: fmt.Sprintf("r-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || insufficient != workers-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d/%d", workers-1, successes, insufficient)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "10")
	f.expectBalance(t, opened.Card.AccountCode(), "30")
}

func TestWithdrawPolicies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fees.Schedule{}, nil)
	f.fund(t, "u1", "200")
	opened := f.open(t, "u1", "150")

	flat, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(50)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !flat.Quote.Fee.Equal(decimal.NewFromInt(1)) || !flat.Transaction.Amount.Equal(decimal.NewFromInt(49)) {
		t.Fatalf("unexpected flat quote %+v", flat.Quote)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "99")
	f.expectBalance(t, opened.Card.AccountCode(), "100")

	tiered, err := f.svc.WithdrawToAccount(ctx, WithdrawInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(60)})
	if err != nil {
		t.Fatalf("withdraw to account: %v", err)
	}
	if !tiered.Quote.Fee.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected tiered fee 2, got %s", tiered.Quote.Fee)
	}
	f.expectBalance(t, ledger.UserAccount("u1"), "157")
	f.expectBalance(t, opened.Card.AccountCode(), "40")
	f.expectBalance(t, ledger.SystemRevenue, "3")

	_, err = f.svc.Withdraw(ctx, WithdrawInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(41)})
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient card balance, got %v", err)
	}
}

func TestCardsOfOtherUsersAreHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fees.Schedule{}, nil)
	f.fund(t, "u1", "50")
	f.fund(t, "u2", "50")
	opened := f.open(t, "u1", "10")

	if _, err := f.svc.Get(ctx, "u2", opened.Card.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err := f.svc.Recharge(ctx, RechargeInput{UserID: "u2", CardID: opened.Card.ID, Amount: decimal.NewFromInt(5)})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncMirrorsStatusAndReportsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fees.Schedule{}, nil)
	f.fund(t, "u1", "50")
	opened := f.open(t, "u1", "10")

	f.issuer.SetStatus(opened.Card.ExternalID, issuer.CardStatusFrozen)
	res, err := f.svc.Sync(ctx, "u1", opened.Card.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.StatusChanged || res.Card.Status != issuer.CardStatusFrozen || res.PreviousStatus != issuer.CardStatusActive {
		t.Fatalf("unexpected sync result %+v", res)
	}
	if !res.Drift.IsZero() {
		t.Fatalf("expected no drift, got %s", res.Drift)
	}

	_, err = f.svc.Recharge(ctx, RechargeInput{UserID: "u1", CardID: opened.Card.ID, Amount: decimal.NewFromInt(5)})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("frozen card must reject recharges, got %v", err)
	}
}

func TestReferralPaidOnceAcrossCardOpens(t *testing.T) {
	ctx := context.Background()
	ids := identity.NewService(identity.NewMemoryRepository())
	referrer, err := ids.Register(ctx, identity.Credentials{Email: "ref@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register referrer: %v", err)
	}
	referred, err := ids.Register(ctx, identity.Credentials{Email: "new@example.com", Password: "password1", ReferralCode: referrer.ReferralCode})
	if err != nil {
		t.Fatalf("register referred: %v", err)
	}

	settings := sysconfig.Defaults()
	settings.ReferralEnabled = true
	settings.ReferralReward = decimal.NewFromInt(5)

	var rewarder *referral.Service
	f := newFixture(t, fees.Schedule{}, rewarderFunc(func(ctx context.Context, userID string) (bool, error) {
		return rewarder.Reward(ctx, userID)
	}))
	rewarder = referral.NewService(f.ledger, ids, staticSettings(settings), f.notes, logging.Discard())

	f.fund(t, referrer.ID, "0")
	f.fund(t, referred.ID, "100")
	for i := 0; i < 3; i++ {
		f.open(t, referred.ID, "10")
	}

	f.expectBalance(t, ledger.UserAccount(referrer.ID), "5")
	f.expectBalance(t, ledger.SystemRewards, "-5")
	if f.notes.Count(notification.KindReferralRewarded) != 1 {
		t.Fatalf("expected one referral notification, got %d", f.notes.Count(notification.KindReferralRewarded))
	}
}

type rewarderFunc func(ctx context.Context, userID string) (bool, error)

func (f rewarderFunc) Reward(ctx context.Context, userID string) (bool, error) { return f(ctx, userID) }
