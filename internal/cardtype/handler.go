package cardtype

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/fees"
	"github.com/vcard-pay/vcard_pay/internal/validation"
)

// Handler exposes card type endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card type HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type upsertRequest struct {
	Name        string        `json:"name" validate:"required,max=64"`
	ProductCode string        `json:"product_code" validate:"required,max=64"`
	Enabled     bool          `json:"enabled"`
	Fees        fees.Schedule `json:"fees"`
	Display     DisplayFees   `json:"display_fees"`
}

func (r upsertRequest) input() Input {
	return Input{Name: r.Name, ProductCode: r.ProductCode, Enabled: r.Enabled, Fees: r.Fees, Display: r.Display}
}

type publicCardType struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Display DisplayFees `json:"display_fees"`
}

// ListPublic returns enabled card types with display fees only.
func (h *Handler) ListPublic(c *fiber.Ctx) error {
	types, err := h.service.List(c.UserContext(), true)
	if err != nil {
		return apperr.ToFiber(err)
	}
	out := make([]publicCardType, 0, len(types))
	for _, ct := range types {
		out = append(out, publicCardType{ID: ct.ID, Name: ct.Name, Display: ct.Display})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"card_types": out})
}

// ListAll returns every card type including applied fees (admin).
func (h *Handler) ListAll(c *fiber.Ctx) error {
	types, err := h.service.List(c.UserContext(), false)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"card_types": types})
}

// Create adds a card type (admin).
func (h *Handler) Create(c *fiber.Ctx) error {
	var req upsertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	ct, err := h.service.Create(c.UserContext(), req.input())
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusCreated).JSON(ct)
}

// Update edits a card type (admin).
func (h *Handler) Update(c *fiber.Ctx) error {
	var req upsertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	ct, err := h.service.Update(c.UserContext(), c.Params("id"), req.input())
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(ct)
}
