package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/pkg/response"
)

const shortLinkKind = "short"

// LinkHandler serves the short link surface: creation, password
// verification, content resolution and redirects.
type LinkHandler struct {
	links *service.ShortLinkService
}

func NewLinkHandler(links *service.ShortLinkService) *LinkHandler {
	return &LinkHandler{links: links}
}

// CreateShortLinkRequest accepts owner_id for compatibility. The owner is
// always the authenticated caller; a different owner_id is refused.
type CreateShortLinkRequest struct {
	OwnerID       string                    `json:"owner_id,omitempty"`
	BlobPath      string                    `json:"blob_path"`
	ExpiryMinutes int                       `json:"expiry_minutes"`
	Password      string                    `json:"password"`
	Metadata      service.ShortLinkMetadata `json:"metadata"`
}

type VerifyShortLinkRequest struct {
	Password string `json:"password"`
}

func (h *LinkHandler) Create(c *fiber.Ctx) error {
	var req CreateShortLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.BlobPath) == "" {
		return response.BadRequest(c, "blob_path is required")
	}
	ownerID := currentUserID(c)
	if req.OwnerID != "" && req.OwnerID != ownerID {
		return response.Forbidden(c, "owner_id must match the authenticated user")
	}

	created, err := h.links.Create(c.UserContext(), service.CreateShortLinkRequest{
		OwnerID:       ownerID,
		BlobPath:      req.BlobPath,
		ExpiryMinutes: req.ExpiryMinutes,
		Metadata:      req.Metadata,
		Password:      req.Password,
	})
	if err != nil {
		return respondError(c, err)
	}

	mode := "open"
	if req.Password != "" {
		mode = "protected"
	}
	RecordLinkCreated(shortLinkKind, mode)
	return response.Created(c, created)
}

func (h *LinkHandler) Revoke(c *fiber.Ctx) error {
	mapping, err := h.links.Revoke(c.UserContext(), c.Params("short_code"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, mapping)
}

func (h *LinkHandler) ListMine(c *fiber.Ctx) error {
	mappings, err := h.links.ListByOwner(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, mappings)
}

// Verify exchanges the link password for a download token bound to the code.
func (h *LinkHandler) Verify(c *fiber.Ctx) error {
	var req VerifyShortLinkRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	token, err := h.links.Verify(c.UserContext(), c.Params("short_code"), req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPassword) {
			RecordPasswordFailure(shortLinkKind)
		}
		RecordLinkAccess(shortLinkKind, "verify_failed")
		return respondError(c, err)
	}
	RecordLinkAccess(shortLinkKind, "verified")
	return response.Success(c, token)
}

// Content answers ?check=true with link metadata and otherwise streams the
// blob. Protected links need the token from Verify in ?token= or the
// X-Download-Token header.
func (h *LinkHandler) Content(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		token = c.Get("X-Download-Token")
	}

	resolved, err := h.links.ResolveForContent(c.UserContext(), c.Params("short_code"), token, boolQuery(c, "check"))
	if err != nil {
		RecordLinkAccess(shortLinkKind, outcomeFor(err))
		return respondError(c, err)
	}
	if resolved.Object == nil {
		return response.Success(c, resolved.Info)
	}

	RecordLinkAccess(shortLinkKind, "streamed")
	return streamObject(c, resolved.Object, resolved.Info.FileName, resolved.Info.MimeType, boolQuery(c, "download"))
}

// Redirect sends unprotected links straight to a short-lived signed URL.
func (h *LinkHandler) Redirect(c *fiber.Ctx) error {
	target, err := h.links.Redirect(c.UserContext(), c.Params("short_code"))
	if err != nil {
		RecordLinkAccess(shortLinkKind, outcomeFor(err))
		return respondError(c, err)
	}
	RecordLinkAccess(shortLinkKind, "redirected")
	return c.Redirect(target, fiber.StatusFound)
}

// outcomeFor collapses an error to a metrics label.
func outcomeFor(err error) string {
	switch statusFor(err) {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusGone:
		return "gone"
	case fiber.StatusUnauthorized:
		return "challenge"
	case fiber.StatusForbidden:
		return "denied"
	case fiber.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}
