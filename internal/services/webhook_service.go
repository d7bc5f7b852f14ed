package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/models"
)

// gatewayStatuses maps the provider's status vocabulary onto the payment state machine.
//
//	success    -> completed
//	failed     -> failed
//	cancelled  -> cancelled
//	processing -> processing
//	pending    -> pending
//
// Anything else is treated as pending so an unknown status is never read as paid.
var gatewayStatuses = map[string]models.PaymentStatus{
	"success":    models.PaymentStatusCompleted,
	"failed":     models.PaymentStatusFailed,
	"cancelled":  models.PaymentStatusCancelled,
	"processing": models.PaymentStatusProcessing,
	"pending":    models.PaymentStatusPending,
}

// MapGatewayStatus translates a provider status. known is false for unmapped values,
// which map to pending.
func MapGatewayStatus(raw string) (status models.PaymentStatus, known bool) {
	status, known = gatewayStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !known {
		return models.PaymentStatusPending, false
	}
	return status, true
}

// CallbackPayload is the provider's asynchronous payment notification.
type CallbackPayload struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// CallbackOutcome records what a callback did; it is logged and counted, never returned to the sender.
type CallbackOutcome string

const (
	CallbackApplied  CallbackOutcome = "applied"
	CallbackIgnored  CallbackOutcome = "ignored"
	CallbackUnknown  CallbackOutcome = "unknown_status"
	CallbackNotFound CallbackOutcome = "not_found"
	CallbackFailed   CallbackOutcome = "failed"
)

// WebhookService feeds gateway callbacks into the payment lifecycle.
type WebhookService struct {
	payments *PaymentService
	metrics  *metrics.Metrics
}

func NewWebhookService(payments *PaymentService, m *metrics.Metrics) *WebhookService {
	return &WebhookService{payments: payments, metrics: m}
}

// HandleCallback applies a callback. Errors are reported through the outcome only.
func (s *WebhookService) HandleCallback(ctx context.Context, payload CallbackPayload) CallbackOutcome {
	outcome := s.handle(ctx, payload)
	s.metrics.ObserveWebhook(string(outcome))
	return outcome
}

func (s *WebhookService) handle(ctx context.Context, payload CallbackPayload) CallbackOutcome {
	log.Printf("[Webhook] Callback for order %s: status=%q transaction=%s", payload.OrderID, payload.Status, payload.TransactionID)

	id, err := uuid.Parse(strings.TrimSpace(payload.OrderID))
	if err != nil {
		log.Printf("[Webhook] Invalid order id %q", payload.OrderID)
		return CallbackNotFound
	}

	status, known := MapGatewayStatus(payload.Status)
	if !known {
		log.Printf("[Webhook] WARNING: unknown status %q for payment %s, treating as pending", payload.Status, id)
	}

	_, transitioned, err := s.payments.UpdateStatus(ctx, id, status, strings.TrimSpace(payload.TransactionID))
	switch {
	case err == nil && transitioned:
		if !known {
			return CallbackUnknown
		}
		return CallbackApplied
	case err == nil:
		if !known {
			return CallbackUnknown
		}
		return CallbackIgnored
	case errors.Is(err, ErrPaymentNotFound):
		log.Printf("[Webhook] Payment %s not found", id)
		return CallbackNotFound
	default:
		log.Printf("[Webhook] Failed to apply callback for payment %s: %v", id, err)
		return CallbackFailed
	}
}
