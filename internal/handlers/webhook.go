package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/venuepay/internal/services"
)

// WebhookHandler receives QR gateway callbacks.
type WebhookHandler struct {
	webhooks *services.WebhookService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// PaymentCallback applies a gateway status notification. Every well-formed callback
// gets the same acknowledgement whatever happened to the payment.
func (h *WebhookHandler) PaymentCallback(c *fiber.Ctx) error {
	var payload services.CallbackPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "order_id is required")
	}

	h.webhooks.HandleCallback(c.UserContext(), payload)

	return c.JSON(fiber.Map{
		"status":     "ok",
		"payment_id": payload.OrderID,
	})
}
