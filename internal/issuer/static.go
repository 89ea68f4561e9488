package issuer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Static simulates a successful issuer integration (mock mode). It keeps card
// balances in memory so GetCardDetail reflects previous calls.
type Static struct {
	mu       sync.Mutex
	cards    map[string]CardDetail
	requests map[string]string
}

// NewStatic builds a mock issuer.
func NewStatic() *Static {
	return &Static{cards: make(map[string]CardDetail), requests: make(map[string]string)}
}

// ApplyCard approves the request with a synthetic active card.
func (s *Static) ApplyCard(_ context.Context, req ApplyCardRequest) (ApplyCardResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.requests[req.RequestID]; ok && req.RequestID != "" {
		return ApplyCardResponse{CardID: id, Status: s.cards[id].Status}, nil
	}
	id := uuid.NewString()
	s.cards[id] = CardDetail{
		CardID:           id,
		Status:           CardStatusActive,
		AvailableBalance: decimal.New(req.InitBalanceCents, -2),
		MaskedNumber:     "5355 **** **** " + id[len(id)-4:],
	}
	if req.RequestID != "" {
		s.requests[req.RequestID] = id
	}
	return ApplyCardResponse{CardID: id, Status: CardStatusActive}, nil
}

// RechargeCard adds amount to the simulated card.
func (s *Static) RechargeCard(_ context.Context, req BalanceRequest) (Ack, error) {
	return s.adjust(req, req.Amount)
}

// WithdrawFromCard removes amount from the simulated card.
func (s *Static) WithdrawFromCard(_ context.Context, req BalanceRequest) (Ack, error) {
	return s.adjust(req, req.Amount.Neg())
}

// GetCardDetail returns the simulated card.
func (s *Static) GetCardDetail(_ context.Context, cardID string) (CardDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return CardDetail{}, fmt.Errorf("card %s: %w", cardID, apperr.ErrExternalService)
	}
	return card, nil
}

// SetStatus changes the simulated upstream status of a card.
func (s *Static) SetStatus(cardID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card, ok := s.cards[cardID]; ok {
		card.Status = status
		s.cards[cardID] = card
	}
}

func (s *Static) adjust(req BalanceRequest, delta decimal.Decimal) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.requests[req.RequestID]; ok && req.RequestID != "" {
		return Ack{Reference: ref}, nil
	}
	card, ok := s.cards[req.CardID]
	if !ok {
		return Ack{}, fmt.Errorf("card %s: %w", req.CardID, apperr.ErrExternalService)
	}
	next := card.AvailableBalance.Add(delta)
	if next.IsNegative() {
		return Ack{}, fmt.Errorf("card %s: insufficient card funds: %w", req.CardID, apperr.ErrExternalService)
	}
	card.AvailableBalance = next
	s.cards[req.CardID] = card
	ref := uuid.NewString()
	if req.RequestID != "" {
		s.requests[req.RequestID] = ref
	}
	return Ack{Reference: ref}, nil
}
