package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/venuepay/internal/services"
)

// writeServiceError renders a payment core error with its mapped status.
// Anything else is left to fiber's error handler.
func writeServiceError(c *fiber.Ctx, err error) error {
	var se *services.ServiceError
	if !errors.As(err, &se) {
		return err
	}

	message := se.Info.Message
	if se.Detail != "" && se.Info.Name == services.ErrorValidation.Name {
		message = se.Detail
	}
	return c.Status(se.Info.Status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    se.Info.Name,
			"message": message,
		},
	})
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseOptionalUUID(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
