package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

type UploadHandler struct {
	service *service.UploadService
	maxSize int64
}

func NewUploadHandler(svc *service.UploadService, maxSize int64) *UploadHandler {
	return &UploadHandler{service: svc, maxSize: maxSize}
}

// Upload handles POST /api/uploads
// Accepts one multipart "file" (APK, source archive, logo, keystore) and
// returns a proxy reference to it.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size == 0 {
		return response.ValidationError(c, "File is empty", nil)
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		return response.ValidationError(c, "File too large", map[string]interface{}{
			"maxSize":  h.maxSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.Upload(c.UserContext(), userID(c), file.Filename, file.Header.Get("Content-Type"), file.Size, f)
	if err != nil {
		return respondError(c, err)
	}
	return response.Created(c, result)
}
