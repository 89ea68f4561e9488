package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/card"
)

// RegisterCardRoutes wires card endpoints. money runs before every
// balance-moving route.
func RegisterCardRoutes(r fiber.Router, h *card.Handler, money []fiber.Handler) {
	cards := r.Group("/cards")
	cards.Get("/", h.List)
	cards.Get("/:id", h.Get)
	cards.Post("/:id/sync", h.Sync)
	cards.Post("/", with(money, h.Open)...)
	cards.Post("/:id/recharge", with(money, h.Recharge)...)
	cards.Post("/:id/withdraw", with(money, h.Withdraw)...)
	cards.Post("/:id/withdraw-to-account", with(money, h.WithdrawToAccount)...)
}

func with(chain []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(chain)+1)
	out = append(out, chain...)
	return append(out, h)
}
