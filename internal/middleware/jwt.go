package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/auth"
)

// Authorizer resolves an access token to the calling user.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (auth.Principal, error)
}

// JWTAuth validates bearer access tokens and stores the caller's id and role
// in the request locals.
func JWTAuth(authz Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(header[len("Bearer "):])
		principal, err := authz.Authorize(c.UserContext(), token)
		if err != nil {
			return apperr.ToFiber(err)
		}

		c.Locals("user_id", principal.UserID)
		c.Locals("role", principal.Role)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}
