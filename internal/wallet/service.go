package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
)

const statusActive = "active"

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// Provision creates the wallet and ledger account of a user. Calling it again
// for the same owner returns the existing wallet.
func (s *Service) Provision(ctx context.Context, ownerID string) (string, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return "", apperr.ErrInvalidInput
	}
	accountCode := ledger.UserAccount(ownerID)
	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return "", err
	}

	wallet := Wallet{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		AccountCode: accountCode,
		Currency:    Currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			existing, gerr := s.repo.GetByOwner(ctx, ownerID)
			if gerr != nil {
				return "", gerr
			}
			return existing.ID, nil
		}
		return "", err
	}
	return wallet.ID, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet of a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance of a user's wallet.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History lists the user's transactions, newest first.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]ledger.Transaction, error) {
	return s.ledger.ListByUser(ctx, ownerID, limit)
}
