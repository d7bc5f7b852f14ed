package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/venuepay/internal/middleware"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/services"
	"github.com/example/venuepay/internal/utils"
)

// RefundHandler manages refund requests.
type RefundHandler struct {
	refunds *services.RefundService
}

// NewRefundHandler constructs RefundHandler.
func NewRefundHandler(refunds *services.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

type createRefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type updateRefundRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes"`
	ExternalID string `json:"external_id"`
}

func currentActor(c *fiber.Ctx) (services.Actor, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return services.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return services.Actor{ID: userID, Role: middleware.GetCurrentRole(c)}, nil
}

// CreateRefund files a refund request for one of the caller's payments.
func (h *RefundHandler) CreateRefund(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req createRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment_id")
	}

	refund, err := h.refunds.Create(c.UserContext(), actor, services.CreateRefundInput{
		PaymentID: paymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": refund})
}

// ListRefunds lists refunds the caller paid for or receives as venue owner.
func (h *RefundHandler) ListRefunds(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	pagination := utils.ParsePagination(c)
	refunds, total, err := h.refunds.List(c.UserContext(), actor, pagination.Offset, pagination.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       refunds,
		"pagination": pagination.Meta(total),
	})
}

func (h *RefundHandler) GetRefund(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	refund, err := h.refunds.Get(c.UserContext(), actor, id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": refund})
}

// UpdateRefund moves a refund through review and settlement.
func (h *RefundHandler) UpdateRefund(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req updateRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	refund, err := h.refunds.Update(c.UserContext(), actor, id, services.UpdateRefundInput{
		Status:     models.RefundStatus(req.Status),
		AdminNotes: req.AdminNotes,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": refund})
}
