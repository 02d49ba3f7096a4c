package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-restyle/session/application"
	"github.com/AzielCF/az-restyle/session/domain"
)

const (
	HeaderSessionID = "X-Session-Id"
	localsSession   = "restyle.session"
)

// Session resolves the caller session from X-Session-Id, minting a fresh one
// when the header is missing or the session went idle. The effective id is
// always echoed back.
func Session(ledger *application.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, created, err := ledger.Resolve(c.UserContext(), c.Get(HeaderSessionID), c.IP())
		if err != nil {
			return WriteError(c, err)
		}
		c.Locals(localsSession, sess)
		c.Set(HeaderSessionID, sess.ID)
		if created {
			c.Set("X-Session-Created", "true")
		}
		return c.Next()
	}
}

// CurrentSession returns the session attached by Session, or nil.
func CurrentSession(c *fiber.Ctx) *domain.Session {
	sess, _ := c.Locals(localsSession).(*domain.Session)
	return sess
}
