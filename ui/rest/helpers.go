package rest

import (
	"github.com/gofiber/fiber/v2"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

// parseBody decodes a JSON body, reporting malformed input as a
// ValidationError.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return pkgError.ValidationError("invalid request body")
	}
	return nil
}

// nonNil keeps empty lists serialized as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
