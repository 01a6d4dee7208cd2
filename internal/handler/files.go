package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/service"
)

// FilesHandler streams blobs behind signed proxy references. The signature
// is the capability, so the route needs no session.
type FilesHandler struct {
	resolver *service.BlobResolver
}

func NewFilesHandler(resolver *service.BlobResolver) *FilesHandler {
	return &FilesHandler{resolver: resolver}
}

// Get handles GET /api/files/:ref
func (h *FilesHandler) Get(c *fiber.Ctx) error {
	blob, err := h.resolver.Stream(c.UserContext(), c.Params("ref"))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "private, max-age=300")
	return streamBlob(c, blob, c.QueryBool("download"))
}
