package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/pkg/response"
)

const secureLinkKind = "secure"

type SecureLinkHandler struct {
	links *service.SecureLinkService
}

func NewSecureLinkHandler(links *service.SecureLinkService) *SecureLinkHandler {
	return &SecureLinkHandler{links: links}
}

type CreateSecureLinkRequest struct {
	Password         string `json:"password"`
	RequireEmail     bool   `json:"require_email"`
	AllowPreview     *bool  `json:"allow_preview"`
	WatermarkEnabled bool   `json:"watermark_enabled"`
	ExpiresInHours   int    `json:"expires_in_hours"`
	MaxAccessCount   *int   `json:"max_access_count"`
}

func (h *SecureLinkHandler) Create(c *fiber.Ctx) error {
	var req CreateSecureLinkRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	created, err := h.links.Create(c.UserContext(), c.Params("id"), currentUserID(c), service.SecureLinkPolicy{
		Password:         req.Password,
		RequireEmail:     req.RequireEmail,
		AllowPreview:     req.AllowPreview,
		WatermarkEnabled: req.WatermarkEnabled,
		ExpiresInHours:   req.ExpiresInHours,
		MaxAccessCount:   req.MaxAccessCount,
	})
	if err != nil {
		return respondError(c, err)
	}

	mode := "direct"
	if created.Mediated {
		mode = "mediated"
	}
	RecordLinkCreated(secureLinkKind, mode)
	return response.Created(c, created)
}

func (h *SecureLinkHandler) ListByFile(c *fiber.Ctx) error {
	links, err := h.links.ListByFile(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, links)
}

func (h *SecureLinkHandler) Revoke(c *fiber.Ctx) error {
	link, err := h.links.Revoke(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, link)
}

func (h *SecureLinkHandler) History(c *fiber.Ctx) error {
	entries, err := h.links.History(c.UserContext(), c.Params("id"), currentUserID(c), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, entries)
}

func (h *SecureLinkHandler) Info(c *fiber.Ctx) error {
	info, err := h.links.Info(c.UserContext(), c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, info)
}

// View streams the file inline.
func (h *SecureLinkHandler) View(c *fiber.Ctx) error {
	return h.serve(c, false)
}

// Download streams the file as an attachment.
func (h *SecureLinkHandler) Download(c *fiber.Ctx) error {
	return h.serve(c, true)
}

func (h *SecureLinkHandler) serve(c *fiber.Ctx, download bool) error {
	password := c.Get("X-Link-Password")
	if password == "" {
		password = c.Query("password")
	}
	email := c.Get("X-Link-Email")
	if email == "" {
		email = c.Query("email")
	}

	result, err := h.links.Access(c.UserContext(), service.SecureAccessRequest{
		Token:    c.Params("token"),
		ActorID:  currentUserID(c),
		Download: download,
		Password: password,
		Email:    email,
		Client:   clientInfo(c),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPassword) {
			RecordPasswordFailure(secureLinkKind)
		}
		RecordLinkAccess(secureLinkKind, outcomeFor(err))
		return respondError(c, err)
	}

	outcome := "streamed"
	if result.Direct {
		outcome = "direct"
	}
	RecordLinkAccess(secureLinkKind, outcome)
	if result.Watermark {
		c.Set("X-Watermark", "required")
	}
	return streamObject(c, result.Object, result.File.OriginalFilename, result.File.MimeType, download)
}
