package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/issuer"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
)

// Handles reports whether Reconcile settles transactions of typ.
func Handles(typ ledger.Type) bool {
	switch typ {
	case ledger.TypeOpenCard, ledger.TypeCardRecharge, ledger.TypeCardWithdraw:
		return true
	}
	return false
}

// Reconcile settles a card operation left pending by an unknown issuer
// outcome. Approving moves the parked funds to where the operation would have
// put them; rejecting returns them to the source. For a pending card open,
// reference is the issuer card id and is required unless already known.
func (s *Service) Reconcile(ctx context.Context, tx ledger.Transaction, approve bool, reference, note string) (ledger.Result, error) {
	if !Handles(tx.Type) {
		return ledger.Result{}, fmt.Errorf("%s is not a card operation: %w", tx.Type, apperr.ErrInvalidInput)
	}
	if tx.Status.Terminal() {
		return ledger.Result{Transaction: tx}, apperr.ErrAlreadyProcessed
	}

	unlock, err := s.lockUser(ctx, tx.UserID)
	if err != nil {
		return ledger.Result{}, err
	}
	defer unlock()

	c, err := s.cards.Get(ctx, tx.CardID)
	if err != nil {
		return ledger.Result{}, err
	}

	// Parked funds: what left the source when the transaction was recorded.
	var held decimal.Decimal
	switch tx.Type {
	case ledger.TypeCardWithdraw:
		held = tx.Amount.Add(tx.Fee)
	default:
		held = tx.Amount.Neg()
	}

	t := ledger.Transition{TransactionID: tx.ID, Note: note}
	switch {
	case approve && tx.Type == ledger.TypeCardWithdraw:
		t.To = ledger.StatusCompleted
		t.Postings = ledger.Postings(
			ledger.Debit(ledger.SystemSuspense, held),
			ledger.Credit(ledger.UserAccount(tx.UserID), tx.Amount),
			ledger.Credit(ledger.SystemRevenue, tx.Fee),
		)
	case approve:
		if reference == "" {
			reference = tx.Reference
		}
		if tx.Type == ledger.TypeOpenCard && c.ExternalID == "" && reference == "" {
			return ledger.Result{}, fmt.Errorf("issuer card id is required to confirm a card open: %w", apperr.ErrInvalidInput)
		}
		t.To = ledger.StatusCompleted
		t.Postings = ledger.Postings(
			ledger.Debit(ledger.SystemSuspense, held),
			ledger.Credit(c.AccountCode(), held.Sub(tx.Fee)),
			ledger.Credit(ledger.SystemRevenue, tx.Fee),
		)
	case tx.Type == ledger.TypeCardWithdraw:
		t.To = ledger.StatusFailed
		t.Postings = ledger.Postings(
			ledger.Debit(ledger.SystemSuspense, held),
			ledger.Credit(c.AccountCode(), held),
		)
	default:
		t.To = ledger.StatusFailed
		t.Postings = ledger.Postings(
			ledger.Debit(ledger.SystemSuspense, held),
			ledger.Credit(ledger.UserAccount(tx.UserID), held),
		)
	}

	res, err := s.ledger.Transition(ctx, t)
	if err != nil {
		return res, err
	}
	s.metrics.Movement(string(tx.Type), string(t.To))

	if tx.Type == ledger.TypeOpenCard {
		if err := s.settleCard(ctx, c, approve, reference); err != nil {
			s.logger.Error("card status update after reconciliation failed",
				slog.String("card_id", c.ID),
				slog.String("error", err.Error()),
			)
		}
		if approve {
			s.rewardReferrer(ctx, tx.UserID)
		}
	}
	s.logger.Info("card.reconcile completed",
		slog.String("transaction_id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.String("status", string(t.To)),
	)
	return res, nil
}

func (s *Service) settleCard(ctx context.Context, c Card, approve bool, reference string) error {
	if approve {
		if reference != "" {
			c.ExternalID = reference
		}
		c.Status = issuer.CardStatusActive
	} else {
		c.Status = issuer.CardStatusCancelled
	}
	c.UpdatedAt = s.now()
	err := s.cards.Update(ctx, c)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("card %s vanished: %w", c.ID, err)
	}
	return err
}
