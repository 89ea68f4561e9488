package notification

import (
	"context"
	"log/slog"
	"sync"
)

// Kinds of user-facing events.
const (
	KindCardOpened        = "card_opened"
	KindCardRecharged     = "card_recharged"
	KindCardWithdrawn     = "card_withdrawn"
	KindRechargeConfirmed = "recharge_confirmed"
	KindRechargeRejected  = "recharge_rejected"
	KindWithdrawPaid      = "withdraw_paid"
	KindWithdrawRejected  = "withdraw_rejected"
	KindRefundCredited    = "refund_credited"
	KindReferralRewarded  = "referral_rewarded"
	KindReconcileNeeded   = "reconcile_needed"
)

// Message describes a notification payload.
type Message struct {
	Kind   string
	UserID string
	Body   string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("user_id", message.UserID),
		slog.String("body", message.Body),
	)
	return nil
}

// Recorder keeps sent messages in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send appends the message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Count returns how many messages of kind were sent.
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}
