package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/sanitize"
)

func clientInfo(c *fiber.Ctx) service.ClientInfo {
	return service.ClientInfo{
		IPAddress: c.IP(),
		UserAgent: sanitize.SanitizeForHeader(c.Get(fiber.HeaderUserAgent)),
	}
}

// streamObject hands the blob body to fasthttp, which closes it once the
// response has been written or the client has gone away.
func streamObject(c *fiber.Ctx, obj *storage.Object, filename, mimeType string, attachment bool) error {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mimeType
	}
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, sanitize.ContentDisposition(attachment, filename))
	c.Set("X-Content-Type-Options", "nosniff")

	if obj.Size >= 0 {
		c.Set("X-File-Size", strconv.FormatInt(obj.Size, 10))
		return c.SendStream(obj.Body, int(obj.Size))
	}
	return c.SendStream(obj.Body)
}

func boolQuery(c *fiber.Ctx, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
