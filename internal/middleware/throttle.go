package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/ratelimit"
)

// Limiter decides whether a subject may proceed.
type Limiter interface {
	Name() string
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// LimitRecorder counts throttled requests.
type LimitRecorder interface {
	RateLimited(policy string)
}

// Throttle limits requests per authenticated user, falling back to the client
// IP. Limiter failures let the request through.
func Throttle(limiter Limiter, metrics LimitRecorder, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject, _ := c.Locals("user_id").(string)
		if subject == "" {
			subject = c.IP()
		}
		d, err := limiter.Allow(c.UserContext(), subject)
		if err != nil {
			logger.Warn("rate limiter unavailable", slog.String("policy", limiter.Name()), slog.Any("error", err))
			return c.Next()
		}
		if d.Allowed {
			return c.Next()
		}
		if metrics != nil {
			metrics.RateLimited(limiter.Name())
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again in "+d.RetryAfter.Round(time.Second).String())
	}
}
