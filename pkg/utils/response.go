package utils

import "github.com/gofiber/fiber/v2"

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// ErrorWithCode is used for failures that carry a stable machine-readable
// code and optional troubleshooting hints alongside the human message.
func ErrorWithCode(c *fiber.Ctx, status int, code, message string, hints []string) error {
	body := fiber.Map{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if len(hints) > 0 {
		body["hints"] = hints
	}
	return c.Status(status).JSON(body)
}
