package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-restyle/pkg/metrics"
)

// Metrics records request counts and latencies per route pattern.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		metrics.ObserveHTTP(c.Method(), route, status, time.Since(start))
		return err
	}
}
