package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/pkg/response"
)

// GrantHandler manages per-user grants and the access request queue.
type GrantHandler struct {
	grants *service.GrantService
}

func NewGrantHandler(grants *service.GrantService) *GrantHandler {
	return &GrantHandler{grants: grants}
}

type GrantRequest struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

type AccessRequestBody struct {
	Role    models.Role `json:"role"`
	Message string      `json:"message"`
}

func (h *GrantHandler) Grant(c *fiber.Ctx) error {
	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	grant, err := h.grants.Grant(c.UserContext(), c.Params("id"), currentUserID(c), req.UserID, req.Role)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, grant)
}

func (h *GrantHandler) List(c *fiber.Ctx) error {
	grants, err := h.grants.List(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, grants)
}

func (h *GrantHandler) Revoke(c *fiber.Ctx) error {
	if err := h.grants.Revoke(c.UserContext(), c.Params("id"), currentUserID(c), c.Params("user_id")); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"message": "grant revoked"})
}

func (h *GrantHandler) History(c *fiber.Ctx) error {
	entries, err := h.grants.History(c.UserContext(), c.Params("id"), currentUserID(c), c.Params("user_id"), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, entries)
}

func (h *GrantHandler) SharedWithMe(c *fiber.Ctx) error {
	shared, err := h.grants.SharedWithMe(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, shared)
}

func (h *GrantHandler) RequestAccess(c *fiber.Ctx) error {
	var body AccessRequestBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}
	req, err := h.grants.RequestAccess(c.UserContext(), c.Params("id"), currentUserID(c), body.Role, body.Message)
	if err != nil {
		return respondError(c, err)
	}
	return response.Created(c, req)
}

func (h *GrantHandler) ListRequests(c *fiber.Ctx) error {
	status := models.AccessRequestStatus(c.Query("status"))
	requests, err := h.grants.ListRequests(c.UserContext(), c.Params("id"), currentUserID(c), status)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, requests)
}

func (h *GrantHandler) Approve(c *fiber.Ctx) error {
	grant, err := h.grants.Approve(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, grant)
}

func (h *GrantHandler) Deny(c *fiber.Ctx) error {
	if err := h.grants.Deny(c.UserContext(), c.Params("id"), currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"message": "access request denied"})
}
