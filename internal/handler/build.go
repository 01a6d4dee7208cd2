package handler

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

type BuildHandler struct {
	presenter
	service   *service.BuildService
	validator *validator.Validate
}

func NewBuildHandler(svc *service.BuildService, resolver *service.BlobResolver, v *validator.Validate) *BuildHandler {
	return &BuildHandler{
		presenter: presenter{resolver: resolver},
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/builds
// Pins the flavor's current snapshot and queues the build. Returns as soon
// as the queue accepted the job.
func (h *BuildHandler) Start(c *fiber.Ctx) error {
	var req model.BuildStartRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	build, err := h.service.Enqueue(c.UserContext(), userID(c), &req)
	if err != nil {
		if build != nil {
			return h.sendPersisted(c, build, err, "Build saved, but the job queue is unavailable; it will be queued again automatically")
		}
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusAccepted, build)
}

// Get handles GET /api/builds/:id
func (h *BuildHandler) Get(c *fiber.Ctx) error {
	build, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, build)
}

// List handles GET /api/flavors/:id/builds
func (h *BuildHandler) List(c *fiber.Ctx) error {
	builds, err := h.service.ListForFlavor(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, fiber.Map{"builds": builds})
}

// Download handles GET /api/builds/:id/download
func (h *BuildHandler) Download(c *fiber.Ctx) error {
	blob, err := h.service.OpenArtifact(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return streamBlob(c, blob, true)
}

// ClearLogs handles DELETE /api/builds/:id/logs
func (h *BuildHandler) ClearLogs(c *fiber.Ctx) error {
	build, err := h.service.ClearLogs(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, build)
}

// Delete handles DELETE /api/builds/:id
func (h *BuildHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), userID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return response.NoContent(c)
}

// streamBlob writes an opened blob with content type, length and
// disposition headers. Body is closed by fasthttp once streamed.
func streamBlob(c *fiber.Ctx, blob *service.Blob, attachment bool) error {
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	c.Set(fiber.HeaderContentType, blob.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("%s; filename=%s", disposition, strconv.Quote(blob.FileName)))
	c.Set("X-Content-Type-Options", "nosniff")

	size := -1
	if blob.Length >= 0 {
		size = int(blob.Length)
	}
	return c.SendStream(blob.Body, size)
}
