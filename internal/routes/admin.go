package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/review"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
)

// AdminHandlers groups the back office handlers.
type AdminHandlers struct {
	Review    *review.Handler
	CardTypes *cardtype.Handler
	Config    *sysconfig.Handler
	Identity  *identity.Handler
}

// RegisterAdminRoutes wires the back office. The router must already enforce
// the admin role.
func RegisterAdminRoutes(r fiber.Router, h AdminHandlers) {
	r.Get("/transactions/pending", h.Review.ListPending)
	r.Post("/transactions/:id/decision", h.Review.Decide)
	r.Post("/refunds", h.Review.CreateRefundHold)

	r.Get("/card-types", h.CardTypes.ListAll)
	r.Post("/card-types", h.CardTypes.Create)
	r.Put("/card-types/:id", h.CardTypes.Update)

	r.Get("/config", h.Config.List)
	r.Put("/config/:key", h.Config.Set)

	r.Put("/users/:id/role", h.Identity.SetRole)
}
