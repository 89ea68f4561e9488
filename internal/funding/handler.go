package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/validation"
)

// Handler exposes HTTP endpoints for platform recharges and withdrawals.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Recharge opens a recharge order.
func (h *Handler) Recharge(c *fiber.Ctx) error {
	var req RechargeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	res, err := h.service.RequestRecharge(c.UserContext(), RechargeInput{
		UserID:    userID(c),
		Amount:    req.Amount,
		Method:    req.PaymentMethod,
		RequestID: requestID(c, req.RequestID),
	})
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(statusFor(res, http.StatusCreated)).JSON(res)
}

// SubmitProof attaches a payment proof to a recharge order.
func (h *Handler) SubmitProof(c *fiber.Ctx) error {
	var req ProofRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	tx, err := h.service.SubmitProof(c.UserContext(), userID(c), c.Params("id"), req.Proof)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transaction": tx})
}

// Withdraw reserves funds for an external payout.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	res, err := h.service.RequestWithdraw(c.UserContext(), WithdrawInput{
		UserID:    userID(c),
		Amount:    req.Amount,
		Method:    req.PaymentMethod,
		Account:   req.Account,
		RequestID: requestID(c, req.RequestID),
	})
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(statusFor(res, http.StatusCreated)).JSON(res)
}

func statusFor(res Result, fresh int) int {
	if res.Replayed {
		return http.StatusOK
	}
	return fresh
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func requestID(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.Get("Idempotency-Key")
}
