package sysconfig

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Handler exposes configuration endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a config HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type setRequest struct {
	Value string `json:"value"`
}

// PaymentInfo returns the addresses and exchange rates users pay against.
func (h *Handler) PaymentInfo(c *fiber.Ctx) error {
	s := h.service.Settings()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"payment_addresses": s.PaymentAddresses,
		"exchange_rates":    s.ExchangeRates,
		"recharge_minimum":  s.RechargeMinimum,
		"withdraw_minimum":  s.WithdrawMinimum,
	})
}

// List returns raw and resolved configuration (admin).
func (h *Handler) List(c *fiber.Ctx) error {
	values, err := h.service.Values(c.UserContext())
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"values":   values,
		"settings": h.service.Settings(),
	})
}

// Set writes one key (admin).
func (h *Handler) Set(c *fiber.Ctx) error {
	var req setRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.Set(c.UserContext(), c.Params("key"), req.Value); err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(h.service.Settings())
}
