package card

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/validation"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes card endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	CardTypeID    string          `json:"card_type_id" validate:"required"`
	InitialAmount decimal.Decimal `json:"initial_amount" validate:"gt=0"`
	RequestID     string          `json:"request_id" validate:"omitempty,max=64"`
}

type amountRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	RequestID string          `json:"request_id" validate:"omitempty,max=64"`
}

// Open provisions a new card.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	out, err := h.service.Open(c.UserContext(), OpenInput{
		UserID:        userID(c),
		CardTypeID:    req.CardTypeID,
		InitialAmount: req.InitialAmount,
		RequestID:     requestID(c, req.RequestID),
	})
	return respond(c, out, err, http.StatusCreated)
}

// Recharge moves funds from the platform balance onto a card.
func (h *Handler) Recharge(c *fiber.Ctx) error {
	req, err := parseAmount(c)
	if err != nil {
		return err
	}
	out, err := h.service.Recharge(c.UserContext(), RechargeInput{
		UserID:    userID(c),
		CardID:    c.Params("id"),
		Amount:    req.Amount,
		RequestID: requestID(c, req.RequestID),
	})
	return respond(c, out, err, http.StatusOK)
}

// Withdraw moves funds from a card to the platform balance (flat fee).
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	req, err := parseAmount(c)
	if err != nil {
		return err
	}
	out, err := h.service.Withdraw(c.UserContext(), withdrawInput(c, req))
	return respond(c, out, err, http.StatusOK)
}

// WithdrawToAccount moves funds from a card to the platform balance (tiered fee).
func (h *Handler) WithdrawToAccount(c *fiber.Ctx) error {
	req, err := parseAmount(c)
	if err != nil {
		return err
	}
	out, err := h.service.WithdrawToAccount(c.UserContext(), withdrawInput(c, req))
	return respond(c, out, err, http.StatusOK)
}

// List returns the user's cards.
func (h *Handler) List(c *fiber.Ctx) error {
	cards, err := h.service.List(c.UserContext(), userID(c))
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"cards": cards})
}

// Get returns one card.
func (h *Handler) Get(c *fiber.Ctx) error {
	view, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// Sync refreshes a card from the issuer.
func (h *Handler) Sync(c *fiber.Ctx) error {
	res, err := h.service.Sync(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

func parseAmount(c *fiber.Ctx) (amountRequest, error) {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return req, apperr.ToFiber(err)
	}
	return req, nil
}

func withdrawInput(c *fiber.Ctx, req amountRequest) WithdrawInput {
	return WithdrawInput{
		UserID:    userID(c),
		CardID:    c.Params("id"),
		Amount:    req.Amount,
		RequestID: requestID(c, req.RequestID),
	}
}

// respond writes an outcome. An unknown issuer outcome is reported as 504
// together with the transaction left pending for reconciliation.
func respond(c *fiber.Ctx, out Outcome, err error, created int) error {
	switch {
	case errors.Is(err, apperr.ErrIndeterminate):
		return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{
			"error":       err.Error(),
			"transaction": out.Transaction,
		})
	case err != nil:
		return apperr.ToFiber(err)
	case out.Replayed:
		return c.Status(http.StatusOK).JSON(out)
	}
	return c.Status(created).JSON(out)
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// requestID prefers the body field and falls back to the Idempotency-Key header.
func requestID(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.Get(idempotencyKeyHeader)
}
