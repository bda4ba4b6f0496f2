package handler

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/pkg/response"
)

// BearerTokenMiddleware protects an ops endpoint with a static bearer token.
// An empty expected token disables the endpoint.
func BearerTokenMiddleware(expectedToken string) fiber.Handler {
	expected := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return response.Forbidden(c, "endpoint is disabled")
		}

		token, present, ok := bearerToken(c)
		if !ok || !present {
			return response.Unauthorized(c, "missing or invalid authorization header")
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			RecordAuthFailure("invalid_ops_token")
			return response.Unauthorized(c, "invalid authorization token")
		}

		return c.Next()
	}
}
