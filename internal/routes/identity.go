package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/auth"
	"github.com/vcard-pay/vcard_pay/internal/identity"
)

// RegisterIdentityRoutes wires the authenticated profile endpoints.
func RegisterIdentityRoutes(r fiber.Router, ids *identity.Handler, sessions *auth.Handler) {
	r.Get("/me", ids.Me)
	r.Post("/auth/logout", sessions.Logout)
}
