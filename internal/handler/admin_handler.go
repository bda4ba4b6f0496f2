package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/jobs"
	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/response"
)

type SweepRunner interface {
	RunOnce(ctx context.Context) []jobs.Result
}

// AdminHandler exposes operator actions behind the ops bearer token.
type AdminHandler struct {
	sweeper SweepRunner
}

func NewAdminHandler(sweeper SweepRunner) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// TriggerSweep runs the same sweep as the scheduled job and reports what
// each task did.
func (h *AdminHandler) TriggerSweep(c *fiber.Ctx) error {
	results := h.sweeper.RunOnce(c.UserContext())

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	logger.Audit("sweep_trigger", "ops", map[string]string{"ip": c.IP()})

	if failed > 0 {
		return response.ErrorWithData(c, fiber.StatusInternalServerError, "one or more sweep tasks failed", results)
	}
	return response.Success(c, results)
}
