package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/auth"
	"github.com/vcard-pay/vcard_pay/internal/identity"
)

// RegisterAuthRoutes wires registration and session endpoints. Login lockout
// is enforced by the auth service itself.
func RegisterAuthRoutes(r fiber.Router, ids *identity.Handler, h *auth.Handler) {
	group := r.Group("/auth")
	group.Post("/register", ids.Register)
	group.Post("/login", h.Login)
	group.Post("/refresh", h.Refresh)
}
