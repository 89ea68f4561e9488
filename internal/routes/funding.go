package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/funding"
)

// RegisterFundingRoutes wires platform recharge and withdraw endpoints.
// rechargeLimit may be nil when no shared counter store is configured.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, rechargeLimit fiber.Handler, money []fiber.Handler) {
	recharge := append([]fiber.Handler{}, money...)
	if rechargeLimit != nil {
		recharge = append(recharge, rechargeLimit)
	}
	r.Post("/recharges", append(recharge, h.Recharge)...)
	r.Post("/recharges/:id/proof", h.SubmitProof)
	r.Post("/withdrawals", append(append([]fiber.Handler{}, money...), h.Withdraw)...)
}
