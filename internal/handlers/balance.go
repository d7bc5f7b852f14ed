package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/venuepay/internal/middleware"
	"github.com/example/venuepay/internal/services"
	"github.com/example/venuepay/internal/utils"
)

// BalanceHandler exposes an owner's ledger.
type BalanceHandler struct {
	billing  *services.BillingService
	payments *services.PaymentService
}

// NewBalanceHandler constructs BalanceHandler.
func NewBalanceHandler(billing *services.BillingService, payments *services.PaymentService) *BalanceHandler {
	return &BalanceHandler{billing: billing, payments: payments}
}

type topupRequest struct {
	Amount int64 `json:"amount"`
}

// GetBalance returns the current owner's balance.
func (h *BalanceHandler) GetBalance(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	balance, err := h.billing.GetOrCreateBalance(c.UserContext(), ownerID)
	if err != nil {
		return err
	}
	settings := h.billing.Settings()

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":                    balance.ID,
			"amount":                balance.Amount,
			"updated_at":            balance.UpdatedAt,
			"low_balance":           balance.Amount < settings.LowBalanceThreshold,
			"low_balance_threshold": settings.LowBalanceThreshold,
			"monthly_subscription":  settings.SubscriptionFee,
		},
	})
}

// Topup starts a balance top-up payment and returns its QR code.
func (h *BalanceHandler) Topup(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req topupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payment, err := h.payments.Topup(c.UserContext(), ownerID, req.Amount)
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": payment})
}

// ListTransactions returns the owner's ledger entries newest first.
func (h *BalanceHandler) ListTransactions(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pagination := utils.ParsePagination(c)
	items, total, err := h.billing.ListTransactions(c.UserContext(), ownerID, pagination.Offset, pagination.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       items,
		"pagination": pagination.Meta(total),
	})
}
