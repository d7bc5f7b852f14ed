package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/venuepay/internal/middleware"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/services"
	"github.com/example/venuepay/internal/utils"
)

// PaymentHandler manages authenticated payment endpoints.
type PaymentHandler struct {
	payments *services.PaymentService
	venues   *services.VenueService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *services.PaymentService, venues *services.VenueService) *PaymentHandler {
	return &PaymentHandler{payments: payments, venues: venues}
}

type createPaymentRequest struct {
	PaymentType string         `json:"payment_type"`
	Amount      int64          `json:"amount"`
	VenueID     string         `json:"venue_id"`
	EventID     string         `json:"event_id"`
	PayerPhone  string         `json:"payer_phone"`
	PayerEmail  string         `json:"payer_email"`
	PayerName   string         `json:"payer_name"`
	Description string         `json:"description"`
	ExtraData   map[string]any `json:"extra_data"`
}

type updateStatusRequest struct {
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
}

// CreatePayment creates a ticket or deposit payment for the current user.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if models.PaymentType(req.PaymentType) == models.PaymentTypeBalanceTopup {
		return fiber.NewError(fiber.StatusBadRequest, "balance top-ups are created through /api/balance/topup")
	}

	venueID, err := parseOptionalUUID(req.VenueID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid venue_id")
	}
	eventID, err := parseOptionalUUID(req.EventID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event_id")
	}

	payment, err := h.payments.CreatePayment(c.UserContext(), services.CreatePaymentInput{
		PaymentType: models.PaymentType(req.PaymentType),
		Amount:      req.Amount,
		UserID:      &userID,
		VenueID:     venueID,
		EventID:     eventID,
		PayerPhone:  req.PayerPhone,
		PayerEmail:  req.PayerEmail,
		PayerName:   req.PayerName,
		Description: req.Description,
		ExtraData:   req.ExtraData,
	})
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": payment})
}

// ListPayments lists the current user's payments. Admins may pass user_id.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	filter := services.PaymentFilter{
		UserID: &userID,
		Status: models.PaymentStatus(c.Query("status")),
		Type:   models.PaymentType(c.Query("payment_type")),
	}
	if middleware.GetCurrentRole(c) == models.RoleAdmin {
		filter.UserID = nil
		if raw := c.Query("user_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid user_id")
			}
			filter.UserID = &id
		}
	}

	pagination := utils.ParsePagination(c)
	payments, total, err := h.payments.ListPayments(c.UserContext(), filter, pagination.Offset, pagination.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       payments,
		"pagination": pagination.Meta(total),
	})
}

// GetPayment returns one payment visible to the current user.
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	payment, err := h.payments.GetPayment(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	if !h.canView(c, payment, userID) {
		return writeServiceError(c, services.ErrPaymentNotFound)
	}

	return c.JSON(fiber.Map{"success": true, "data": payment})
}

func (h *PaymentHandler) canView(c *fiber.Ctx, payment *models.Payment, userID uuid.UUID) bool {
	if middleware.GetCurrentRole(c) == models.RoleAdmin {
		return true
	}
	if payment.UserID != nil && *payment.UserID == userID {
		return true
	}
	if payment.VenueID != nil {
		owner, err := h.venues.IsOwner(c.UserContext(), *payment.VenueID, userID)
		return err == nil && owner
	}
	return false
}

// UpdateStatus lets an admin move a payment through the state machine.
func (h *PaymentHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	status := models.PaymentStatus(req.Status)
	switch status {
	case models.PaymentStatusPending, models.PaymentStatusProcessing, models.PaymentStatusCompleted,
		models.PaymentStatusFailed, models.PaymentStatusCancelled:
	case models.PaymentStatusRefunded:
		return fiber.NewError(fiber.StatusBadRequest, "refunds are settled through /api/refunds")
	default:
		return fiber.NewError(fiber.StatusBadRequest, "invalid status")
	}

	payment, updated, err := h.payments.UpdateStatus(c.UserContext(), id, status, req.ExternalID)
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"updated": updated,
		"data":    payment,
	})
}
