package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/response"
)

type FileHandler struct {
	fileSvc *service.FileService
}

func NewFileHandler(fileSvc *service.FileService) *FileHandler {
	return &FileHandler{fileSvc: fileSvc}
}

type VisibilityRequest struct {
	IsPublic *bool `json:"is_public"`
}

func (h *FileHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "file is required")
	}

	content, err := fileHeader.Open()
	if err != nil {
		logger.ForRequest(c).Error().Err(err).Msg("Failed to open multipart upload")
		return response.InternalError(c, genericInternalMessage)
	}
	defer content.Close()

	file, err := h.fileSvc.Upload(c.UserContext(), &service.UploadRequest{
		OwnerID:  currentUserID(c),
		Filename: c.FormValue("original_filename", fileHeader.Filename),
		Size:     fileHeader.Size,
		Content:  content,
		IsPublic: boolQuery(c, "public") || c.FormValue("is_public") == "true",
	})
	if err != nil {
		return respondError(c, err)
	}

	RecordFileUpload(float64(file.FileSize))
	return response.Created(c, file)
}

func (h *FileHandler) List(c *fiber.Ctx) error {
	files, err := h.fileSvc.ListMine(c.UserContext(), currentUserID(c), boolQuery(c, "include_deleted"))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, files)
}

func (h *FileHandler) Get(c *fiber.Ctx) error {
	file, _, err := h.fileSvc.Get(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, file)
}

// Content streams the file to callers with standing access: owner, grantee
// or anyone for a public file.
func (h *FileHandler) Content(c *fiber.Ctx) error {
	download := boolQuery(c, "download")
	content, err := h.fileSvc.OpenContent(c.UserContext(), c.Params("id"), currentUserID(c), download, clientInfo(c))
	if err != nil {
		return respondError(c, err)
	}
	return streamObject(c, content.Object, content.File.OriginalFilename, content.File.MimeType, download)
}

func (h *FileHandler) SetVisibility(c *fiber.Ctx) error {
	var req VisibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.IsPublic == nil {
		return response.BadRequest(c, "is_public is required")
	}

	file, err := h.fileSvc.SetVisibility(c.UserContext(), c.Params("id"), currentUserID(c), *req.IsPublic)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, file)
}

func (h *FileHandler) Delete(c *fiber.Ctx) error {
	if err := h.fileSvc.SoftDelete(c.UserContext(), c.Params("id"), currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"message": "file moved to trash"})
}

func (h *FileHandler) Restore(c *fiber.Ctx) error {
	file, err := h.fileSvc.Restore(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, file)
}

func (h *FileHandler) PermanentDelete(c *fiber.Ctx) error {
	if err := h.fileSvc.PermanentDelete(c.UserContext(), c.Params("id"), currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"message": "file permanently deleted"})
}

func (h *FileHandler) History(c *fiber.Ctx) error {
	entries, err := h.fileSvc.History(c.UserContext(), c.Params("id"), currentUserID(c), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, entries)
}
