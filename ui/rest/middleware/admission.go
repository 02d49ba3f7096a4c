package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-restyle/pkg/admission"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	"github.com/AzielCF/az-restyle/pkg/metrics"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// IdentityFunc derives the quota identity of a request.
type IdentityFunc func(c *fiber.Ctx) string

// ClientIP keys quotas by the caller address, honoring trusted proxies.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}

// Admission enforces the quota of class before the handler runs. The
// X-RateLimit headers are sent on allowed and denied responses alike.
func Admission(controller *admission.Controller, class admission.Class, identity IdentityFunc) fiber.Handler {
	if identity == nil {
		identity = ClientIP
	}
	return func(c *fiber.Ctx) error {
		decision := controller.Admit(identity(c), class)
		metrics.ObserveAdmission(string(class), decision.Allowed)

		if decision.Limit > 0 {
			c.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			c.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
			c.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed {
			return WriteError(c, pkgError.QuotaExceededError{
				Class:      string(class),
				Limit:      decision.Limit,
				ResetAt:    decision.ResetAt,
				RetryAfter: decision.RetryAfter,
			})
		}
		return c.Next()
	}
}

// retryAfterSeconds rounds up so clients never retry before the reset.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
