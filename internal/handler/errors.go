package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/response"
)

var (
	// ErrDatabaseNotInitialized is returned when the database is not initialized
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	// ErrStorageNotAccessible is returned when the blob store health check fails
	ErrStorageNotAccessible = errors.New("storage not accessible")
)

const genericInternalMessage = "internal server error"

// statusFor maps a service error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrGone):
		return fiber.StatusGone
	case errors.Is(err, service.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// challengeData tells clients which credential a 401 is asking for.
func challengeData(err error) fiber.Map {
	switch {
	case errors.Is(err, service.ErrPasswordRequired), errors.Is(err, service.ErrDownloadTokenRequired):
		return fiber.Map{"requiresPassword": true}
	case errors.Is(err, service.ErrEmailRequired):
		return fiber.Map{"requiresEmail": true}
	default:
		return nil
	}
}

// respondError writes the envelope for err. Storage and unexpected failures
// are logged with detail and answered with a generic message.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logger.ForRequest(c).Error().Err(err).
			Str("method", c.Method()).
			Str("route", c.Route().Path).
			Msg("Request failed")
		return response.InternalError(c, genericInternalMessage)
	}

	message := err.Error()
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Error()
	}

	switch status {
	case fiber.StatusGone:
		return response.Gone(c, message)
	case fiber.StatusUnauthorized:
		if data := challengeData(err); data != nil {
			return response.ErrorWithData(c, status, message, data)
		}
	}
	return response.Error(c, status, message)
}
