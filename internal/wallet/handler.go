package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Me returns the authenticated user's wallet and balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return apperr.ToFiber(err)
	}
	bal, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet":    w,
		"balance":   bal.Amount,
		"timestamp": bal.AsOf,
	})
}

// History returns the authenticated user's transactions.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	txs, err := h.service.History(c.UserContext(), uid, c.QueryInt("limit", 50))
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}
