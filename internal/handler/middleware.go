package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/pkg/response"
)

// SecurityHeadersMiddleware adds security-related headers to all responses
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; sandbox")

		// Link URLs carry bearer capabilities; keep them out of shared caches.
		c.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		c.Set("Pragma", "no-cache")
		c.Set("Expires", "0")

		return c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals("request_id", requestID)

		return c.Next()
	}
}

// bearerToken returns the token from an "Authorization: Bearer" header. ok is
// false when the header is present but malformed.
func bearerToken(c *fiber.Ctx) (token string, present bool, ok bool) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return "", false, true
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true, false
	}
	return parts[1], true, true
}

// AuthMiddleware requires a valid user token and stores its subject in
// c.Locals("user_id").
func AuthMiddleware(tokens *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, present, ok := bearerToken(c)
		if !ok {
			RecordAuthFailure("malformed_header")
			return response.Unauthorized(c, "invalid authorization header format")
		}
		if !present {
			return response.Unauthorized(c, "missing authorization token")
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			RecordAuthFailure("invalid_token")
			return response.Unauthorized(c, "invalid or expired token")
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

// OptionalAuthMiddleware identifies the caller when a valid token is sent and
// otherwise continues anonymously.
func OptionalAuthMiddleware(tokens *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", "")

		token, present, ok := bearerToken(c)
		if !ok || !present {
			return c.Next()
		}
		if claims, err := tokens.ParseToken(token); err == nil {
			c.Locals("user_id", claims.UserID)
		}
		return c.Next()
	}
}

// currentUserID returns the authenticated user, or "" for anonymous callers.
func currentUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

// BodyLimitMiddleware enforces a per-route body size limit.
func BodyLimitMiddleware(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return response.Error(c, fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}
