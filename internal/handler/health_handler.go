package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/storage"
)

const (
	healthCheckTimeout = 3 * time.Second
	healthSentinelPath = "health/sentinel"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    *sql.DB
	blobs storage.BlobStore
}

func NewHealthHandler(db *sql.DB, blobs storage.BlobStore) *HealthHandler {
	return &HealthHandler{db: db, blobs: blobs}
}

// Liveness returns basic liveness status (is the server running?)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness pings the database and asks the blob store about a sentinel key.
// A missing sentinel object is healthy; only a failing backend is not.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	for name, check := range map[string]func(context.Context) error{
		"database": h.checkDatabase,
		"storage":  h.checkStorage,
	} {
		if err := check(ctx); err != nil {
			checks[name] = fiber.Map{"status": "unhealthy", "error": err.Error()}
			healthy = false
			continue
		}
		checks[name] = fiber.Map{"status": "healthy"}
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": checks})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return ErrDatabaseNotInitialized
	}
	return h.db.PingContext(ctx)
}

func (h *HealthHandler) checkStorage(ctx context.Context) error {
	if h.blobs == nil {
		return ErrStorageNotAccessible
	}
	if _, err := h.blobs.Exists(ctx, healthSentinelPath); err != nil {
		return ErrStorageNotAccessible
	}
	return nil
}
