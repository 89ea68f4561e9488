package cardtype

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/fees"
)

// Service manages card types.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a card type service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Input carries the editable fields of a card type.
type Input struct {
	Name        string
	ProductCode string
	Enabled     bool
	Fees        fees.Schedule
	Display     DisplayFees
}

// Create adds a card type.
func (s *Service) Create(ctx context.Context, in Input) (CardType, error) {
	if err := validate(in); err != nil {
		return CardType{}, err
	}
	now := s.now()
	ct := CardType{
		ID:          uuid.NewString(),
		Name:        in.Name,
		ProductCode: in.ProductCode,
		Enabled:     in.Enabled,
		Fees:        in.Fees,
		Display:     in.Display,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, ct); err != nil {
		return CardType{}, err
	}
	s.logger.Info("card type created", slog.String("card_type_id", ct.ID), slog.String("product_code", ct.ProductCode))
	return ct, nil
}

// Update replaces the editable fields of a card type.
func (s *Service) Update(ctx context.Context, id string, in Input) (CardType, error) {
	if err := validate(in); err != nil {
		return CardType{}, err
	}
	ct, err := s.repo.Get(ctx, id)
	if err != nil {
		return CardType{}, err
	}
	ct.Name = in.Name
	ct.ProductCode = in.ProductCode
	ct.Enabled = in.Enabled
	ct.Fees = in.Fees
	ct.Display = in.Display
	ct.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, ct); err != nil {
		return CardType{}, err
	}
	return ct, nil
}

// Get returns a card type by id.
func (s *Service) Get(ctx context.Context, id string) (CardType, error) {
	return s.repo.Get(ctx, id)
}

// Available returns an enabled card type, or ErrNotFound when disabled.
func (s *Service) Available(ctx context.Context, id string) (CardType, error) {
	ct, err := s.repo.Get(ctx, id)
	if err != nil {
		return CardType{}, err
	}
	if !ct.Enabled {
		return CardType{}, fmt.Errorf("card type %s disabled: %w", id, apperr.ErrNotFound)
	}
	return ct, nil
}

// List returns card types; users only see enabled ones.
func (s *Service) List(ctx context.Context, enabledOnly bool) ([]CardType, error) {
	return s.repo.List(ctx, enabledOnly)
}

func validate(in Input) error {
	if in.Name == "" || in.ProductCode == "" {
		return fmt.Errorf("name and product code are required: %w", apperr.ErrInvalidInput)
	}
	v := reflect.ValueOf(in.Fees)
	for i := 0; i < v.NumField(); i++ {
		if d, ok := v.Field(i).Interface().(decimal.Decimal); ok && d.IsNegative() {
			return fmt.Errorf("%s must not be negative: %w", v.Type().Field(i).Tag.Get("json"), apperr.ErrInvalidInput)
		}
	}
	return nil
}
