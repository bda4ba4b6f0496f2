package handler

import (
	"bytes"
	"errors"
	"net/url"
	"path"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/response"
)

// BlobHandler serves the signed URLs issued by the local backend. Cloud
// backends hand out provider URLs and never route through here.
type BlobHandler struct {
	store *storage.LocalStore
}

func NewBlobHandler(store *storage.LocalStore) *BlobHandler {
	return &BlobHandler{store: store}
}

func (h *BlobHandler) authorize(c *fiber.Ctx, perm storage.Permission) (string, error) {
	raw, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return "", storage.ErrInvalidPath
	}
	if c.Query("perm") != string(perm) {
		return "", storage.ErrSignatureInvalid
	}
	if err := h.store.Verify(raw, c.Query("expires"), perm, c.Query("sig")); err != nil {
		return "", err
	}
	return raw, nil
}

func (h *BlobHandler) blobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrSignatureExpired):
		return response.Forbidden(c, "signed url has expired")
	case errors.Is(err, storage.ErrSignatureInvalid), errors.Is(err, storage.ErrInvalidPath):
		return response.Forbidden(c, "invalid signature")
	case errors.Is(err, storage.ErrObjectNotFound):
		return response.NotFound(c, "blob not found")
	default:
		logger.ForRequest(c).Error().Err(err).Msg("Blob request failed")
		return response.InternalError(c, genericInternalMessage)
	}
}

func (h *BlobHandler) Get(c *fiber.Ctx) error {
	p, err := h.authorize(c, storage.PermRead)
	if err != nil {
		return h.blobError(c, err)
	}
	obj, err := h.store.Get(c.UserContext(), p)
	if err != nil {
		return h.blobError(c, err)
	}
	return streamObject(c, obj, path.Base(p), "", boolQuery(c, "download"))
}

func (h *BlobHandler) Put(c *fiber.Ctx) error {
	p, err := h.authorize(c, storage.PermWrite)
	if err != nil {
		return h.blobError(c, err)
	}
	body := c.Body()
	stored, err := h.store.Put(c.UserContext(), p, bytes.NewReader(body), int64(len(body)), c.Get(fiber.HeaderContentType))
	if err != nil {
		return h.blobError(c, err)
	}
	return response.Created(c, fiber.Map{"path": stored, "size": len(body)})
}
