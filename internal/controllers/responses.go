package controllers

import (
	"errors"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// successResponse wraps data in the stable success envelope.
func successResponse(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// errorResponse maps the domain error taxonomy onto HTTP statuses. Internal
// errors surface only their message, never a stack trace.
func errorResponse(c fiber.Ctx, err error) error {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		body := fiber.Map{"error": validationErr.Message}
		if len(validationErr.Details) > 0 {
			body["details"] = validationErr.Details
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	switch {
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrDuplicateDocument):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
