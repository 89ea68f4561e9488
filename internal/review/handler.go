package review

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/validation"
)

// Handler exposes the admin review endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a review HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type decisionRequest struct {
	Approve     *bool            `json:"approve" validate:"required"`
	FeeOverride *decimal.Decimal `json:"fee_override"`
	Reference   string           `json:"reference" validate:"omitempty,max=128"`
	Note        string           `json:"note" validate:"omitempty,max=512"`
}

type refundRequest struct {
	CardID    string          `json:"card_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"omitempty,max=128"`
}

// ListPending returns the review queue.
func (h *Handler) ListPending(c *fiber.Ctx) error {
	txs, err := h.service.ListPending(c.UserContext(), c.QueryInt("limit", defaultPendingLimit))
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}

// Decide confirms or rejects a transaction.
func (h *Handler) Decide(c *fiber.Ctx) error {
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	res, err := h.service.Decide(c.UserContext(), c.Params("id"), Decision{
		Approve:     *req.Approve,
		FeeOverride: req.FeeOverride,
		Reference:   req.Reference,
		Note:        req.Note,
	})
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// CreateRefundHold records a card refund for reconciliation.
func (h *Handler) CreateRefundHold(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	tx, err := h.service.CreateRefundHold(c.UserContext(), RefundInput{CardID: req.CardID, Amount: req.Amount, Reference: req.Reference})
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"transaction": tx})
}
