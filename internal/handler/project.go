package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

type ProjectHandler struct {
	presenter
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, resolver *service.BlobResolver, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		presenter: presenter{resolver: resolver},
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects
// Registers an uploaded base APK and queues its decompilation.
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	project, err := h.service.Create(c.UserContext(), userID(c), &req)
	if err != nil {
		if project != nil {
			return h.sendPersisted(c, project, err, "Project saved, but decompilation could not be queued")
		}
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusCreated, project)
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.List(c.UserContext(), userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, fiber.Map{"projects": projects})
}

// Get handles GET /api/projects/:id
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	project, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, project)
}

// RetryDecompile handles POST /api/projects/:id/decompile
func (h *ProjectHandler) RetryDecompile(c *fiber.Ctx) error {
	project, err := h.service.RetryDecompile(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		if project != nil {
			return h.sendPersisted(c, project, err, "Project reset, but decompilation could not be queued")
		}
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusAccepted, project)
}

// Delete handles DELETE /api/projects/:id
// Removes the project with its flavors, snapshots and builds.
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), userID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return response.NoContent(c)
}
