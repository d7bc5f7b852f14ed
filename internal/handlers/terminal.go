package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/venuepay/internal/middleware"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/services"
)

// TerminalHandler manages venue gateway terminals.
type TerminalHandler struct {
	terminals *services.TerminalService
	venues    *services.VenueService
}

// NewTerminalHandler constructs TerminalHandler.
func NewTerminalHandler(terminals *services.TerminalService, venues *services.VenueService) *TerminalHandler {
	return &TerminalHandler{terminals: terminals, venues: venues}
}

type createTerminalRequest struct {
	VenueID     string `json:"venue_id"`
	Name        string `json:"name"`
	TerminalID  string `json:"terminal_id"`
	APIKey      string `json:"api_key"`
	Description string `json:"description"`
}

// CreateTerminal registers a terminal for a venue the caller owns.
func (h *TerminalHandler) CreateTerminal(c *fiber.Ctx) error {
	var req createTerminalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	venueID, err := uuid.Parse(req.VenueID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid venue_id")
	}
	if err := h.authorizeVenue(c, venueID); err != nil {
		return err
	}

	terminal, err := h.terminals.Register(c.UserContext(), services.RegisterTerminalInput{
		VenueID:     venueID,
		Name:        req.Name,
		TerminalID:  req.TerminalID,
		APIKey:      req.APIKey,
		Description: req.Description,
	})
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": terminal})
}

// ListTerminals lists a venue's terminals.
func (h *TerminalHandler) ListTerminals(c *fiber.Ctx) error {
	venueID, err := uuid.Parse(c.Query("venue_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "venue_id is required")
	}
	if err := h.authorizeVenue(c, venueID); err != nil {
		return err
	}

	terminals, err := h.terminals.List(c.UserContext(), venueID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": terminals})
}

// DeactivateTerminal takes a terminal out of service.
func (h *TerminalHandler) DeactivateTerminal(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	terminal, err := h.terminals.Get(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	if err := h.authorizeVenue(c, terminal.VenueID); err != nil {
		return err
	}

	terminal, err = h.terminals.Deactivate(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": terminal})
}

func (h *TerminalHandler) authorizeVenue(c *fiber.Ctx, venueID uuid.UUID) error {
	if middleware.GetCurrentRole(c) == models.RoleAdmin {
		return nil
	}
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	owner, err := h.venues.IsOwner(c.UserContext(), venueID, userID)
	if errors.Is(err, services.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "venue not found")
	}
	if err != nil {
		return err
	}
	if !owner {
		return fiber.NewError(fiber.StatusForbidden, "venue belongs to another owner")
	}
	return nil
}
