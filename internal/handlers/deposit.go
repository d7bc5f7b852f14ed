package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/venuepay/internal/services"
)

// DepositHandler serves the guest-facing deposit endpoints.
type DepositHandler struct {
	deposits *services.DepositService
}

// NewDepositHandler constructs DepositHandler.
func NewDepositHandler(deposits *services.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type createDepositRequest struct {
	VenueID         string `json:"venue_id"`
	EventID         string `json:"event_id"`
	Amount          int64  `json:"amount"`
	PayerPhone      string `json:"payer_phone"`
	PayerEmail      string `json:"payer_email"`
	PayerName       string `json:"payer_name"`
	ReservationDate string `json:"reservation_date"`
	ReservationTime string `json:"reservation_time"`
	GuestsCount     int    `json:"guests_count"`
	Description     string `json:"description"`
}

// CreateDeposit creates a venue deposit and returns its QR code and portal link.
func (h *DepositHandler) CreateDeposit(c *fiber.Ctx) error {
	var req createDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	venueID, err := uuid.Parse(req.VenueID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid venue_id")
	}
	eventID, err := parseOptionalUUID(req.EventID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event_id")
	}

	payment, err := h.deposits.CreateDeposit(c.UserContext(), services.CreateDepositInput{
		VenueID:         venueID,
		EventID:         eventID,
		Amount:          req.Amount,
		PayerPhone:      req.PayerPhone,
		PayerEmail:      req.PayerEmail,
		PayerName:       req.PayerName,
		ReservationDate: req.ReservationDate,
		ReservationTime: req.ReservationTime,
		GuestsCount:     req.GuestsCount,
		Description:     req.Description,
	})
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"data":        payment,
		"deposit_url": h.deposits.DepositURL(payment.ID),
	})
}

// GetPublic returns a deposit without authentication.
func (h *DepositHandler) GetPublic(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	deposit, err := h.deposits.GetPublic(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(deposit)
}
