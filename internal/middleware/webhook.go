package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecretMiddleware requires gateway callbacks to present the shared secret.
// An empty secret disables the check.
func WebhookSecretMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		presented := c.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			log.Printf("[Webhook] Rejected callback from %s: bad secret", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status": "error",
			})
		}

		return c.Next()
	}
}
