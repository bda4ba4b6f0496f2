package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/auth"
)

func TestBearerTokenMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		header   string
		want     int
	}{
		{name: "valid token", expected: "secret-token", header: "Bearer secret-token", want: fiber.StatusNoContent},
		{name: "case insensitive scheme", expected: "secret-token", header: "bearer secret-token", want: fiber.StatusNoContent},
		{name: "missing header", expected: "secret-token", want: fiber.StatusUnauthorized},
		{name: "wrong token", expected: "secret-token", header: "Bearer wrong-token", want: fiber.StatusUnauthorized},
		{name: "basic auth", expected: "secret-token", header: "Basic c2VjcmV0", want: fiber.StatusUnauthorized},
		{name: "disabled endpoint", expected: "", header: "Bearer anything", want: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/ops", BearerTokenMiddleware(tt.expected), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenManager("middleware-test-secret")
	valid, err := tokens.GenerateToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	foreign, err := auth.NewTokenManager("another-secret").GenerateToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	newApp := func(mw fiber.Handler) *fiber.App {
		app := fiber.New()
		app.Get("/me", mw, func(c *fiber.Ctx) error {
			return c.SendString("user=" + currentUserID(c))
		})
		return app
	}

	tests := []struct {
		name         string
		header       string
		requiredCode int
		optionalBody string
	}{
		{name: "valid", header: "Bearer " + valid, requiredCode: fiber.StatusOK, optionalBody: "user=user-1"},
		{name: "missing", requiredCode: fiber.StatusUnauthorized, optionalBody: "user="},
		{name: "malformed", header: "Token " + valid, requiredCode: fiber.StatusUnauthorized, optionalBody: "user="},
		{name: "foreign signature", header: "Bearer " + foreign, requiredCode: fiber.StatusUnauthorized, optionalBody: "user="},
	}

	required := newApp(AuthMiddleware(tokens))
	optional := newApp(OptionalAuthMiddleware(tokens))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := required.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.requiredCode {
				t.Fatalf("required auth: expected %d, got %d", tt.requiredCode, resp.StatusCode)
			}

			req = httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err = optional.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			body := readBody(t, resp)
			if resp.StatusCode != fiber.StatusOK || body != tt.optionalBody {
				t.Fatalf("optional auth: got %d %q, want 200 %q", resp.StatusCode, body, tt.optionalBody)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("request_id").(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if body := readBody(t, resp); body != "client-supplied" || resp.Header.Get("X-Request-ID") != "client-supplied" {
		t.Fatalf("expected supplied request id to be kept, got %q", body)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if body := readBody(t, resp); len(body) != 36 {
		t.Fatalf("expected a generated uuid, got %q", body)
	}
}
