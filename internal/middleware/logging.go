package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/keyward/backend/pkg/logger"
)

// RequestLogger emits one structured event per request after it completes.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Info("http_request", fields)
		return err
	}
}
