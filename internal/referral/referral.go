package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/notification"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

// Users resolves the referral relation.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// SettingsSource provides the current referral settings.
type SettingsSource interface {
	Settings() sysconfig.Settings
}

// Service pays the one-time referral reward.
type Service struct {
	ledger   ledger.Ledger
	users    Users
	settings SettingsSource
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService builds a referral service.
func NewService(l ledger.Ledger, users Users, settings SettingsSource, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: l, users: users, settings: settings, notifier: notifier, logger: logger}
}

// ClientTxID is the idempotency key of the reward for a referred user.
func ClientTxID(referredUserID string) string {
	return "referral:" + referredUserID
}

// Reward pays the referrer of referredUserID once the user has opened a card.
// Repeat calls are absorbed by the reward's client tx id, so concurrent opens
// still pay exactly once. It reports whether a payment was made by this call.
func (s *Service) Reward(ctx context.Context, referredUserID string) (bool, error) {
	settings := s.settings.Settings()
	if !settings.ReferralEnabled {
		return false, nil
	}
	amount := fees.ReferralReward(settings.ReferralReward)
	if amount.IsZero() {
		return false, nil
	}

	user, err := s.users.FindByID(ctx, referredUserID)
	if err != nil {
		return false, err
	}
	if user.ReferredBy == "" {
		return false, nil
	}

	opened, err := s.ledger.CountByUser(ctx, referredUserID, ledger.TypeOpenCard, ledger.StatusCompleted)
	if err != nil {
		return false, err
	}
	if opened < 1 {
		return false, nil
	}

	referrerAccount := ledger.UserAccount(user.ReferredBy)
	if err := s.ledger.EnsureAccount(ctx, referrerAccount); err != nil {
		return false, err
	}
	res, err := s.ledger.Post(ctx, ledger.Movement{
		Transaction: ledger.Transaction{
			UserID:     user.ReferredBy,
			Type:       ledger.TypeReferralBonus,
			Amount:     amount,
			ClientTxID: ClientTxID(referredUserID),
			Reference:  referredUserID,
		},
		Postings: []ledger.Posting{
			ledger.Debit(ledger.SystemRewards, amount),
			ledger.Credit(referrerAccount, amount),
		},
	})
	if errors.Is(err, apperr.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("post referral reward: %w", err)
	}

	s.logger.Info("referral.reward completed",
		slog.String("referrer_id", user.ReferredBy),
		slog.String("referred_id", referredUserID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("amount", amount.String()),
	)
	s.notify(ctx, user.ReferredBy, "referral reward "+amount.StringFixed(2)+" USD")
	return true, nil
}

func (s *Service) notify(ctx context.Context, userID, body string) {
	msg := notification.Message{Kind: notification.KindReferralRewarded, UserID: userID, Body: body}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.String("error", err.Error()))
	}
}
