package sysconfig

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Service serves typed settings and applies admin writes.
type Service struct {
	store   Store
	logger  *slog.Logger
	current atomic.Pointer[Settings]
}

// NewService loads the store once and caches the resolved settings.
func NewService(ctx context.Context, store Store, logger *slog.Logger) (*Service, error) {
	s := &Service{store: store, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings returns the cached settings.
func (s *Service) Settings() Settings {
	return *s.current.Load()
}

// Reload re-reads the store.
func (s *Service) Reload(ctx context.Context) error {
	values, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load system config: %w", err)
	}
	settings := Resolve(values)
	s.current.Store(&settings)
	return nil
}

// Values returns the raw stored pairs.
func (s *Service) Values(ctx context.Context) (map[string]string, error) {
	return s.store.All(ctx)
}

// Set validates and stores one pair, then refreshes the cache.
func (s *Service) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if err := Validate(key, value); err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		return err
	}
	s.logger.Info("system config updated", slog.String("key", key))
	return s.Reload(ctx)
}

// Validate checks that value is acceptable for key.
func Validate(key, value string) error {
	switch key {
	case KeyAddressUSDT, KeyAddressWeChat, KeyAddressAlipay:
		return nil
	case KeyReferralEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false: %w", key, apperr.ErrInvalidInput)
		}
		return nil
	case KeyRateWeChat, KeyRateAlipay:
		d, err := decimal.NewFromString(value)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%s must be a positive number: %w", key, apperr.ErrInvalidInput)
		}
		return nil
	case KeyReferralReward, KeyWithdrawMinimum, KeyRechargeMinimum, KeyFirstRechargePercent:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative number: %w", key, apperr.ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("unknown config key %q: %w", key, apperr.ErrInvalidInput)
	}
}
