package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

// InternalHandler serves the control-plane API the build worker calls back
// into. Routes are guarded by middleware.InternalAuth.
type InternalHandler struct {
	sm        *service.StateMachine
	flavors   *service.FlavorService
	validator *validator.Validate
}

func NewInternalHandler(sm *service.StateMachine, flavors *service.FlavorService, v *validator.Validate) *InternalHandler {
	return &InternalHandler{sm: sm, flavors: flavors, validator: v}
}

// BuildProgress handles POST /internal/builds/:id/logs
func (h *InternalHandler) BuildProgress(c *fiber.Ctx) error {
	var req model.BuildProgressRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	build, err := h.sm.ReportBuild(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, fiber.Map{"id": build.ID, "status": build.Status})
}

// ProjectProgress handles POST /internal/projects/:id/logs
func (h *InternalHandler) ProjectProgress(c *fiber.Ctx) error {
	var req model.ProjectProgressRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	project, err := h.sm.ReportProject(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, fiber.Map{"id": project.ID, "status": project.Status})
}

// PatchFlavorConfig handles PATCH /internal/flavors/:id/config
// Used when the worker generated signing material for a flavor.
func (h *InternalHandler) PatchFlavorConfig(c *fiber.Ctx) error {
	var req model.SaveFlavorConfigRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	version, err := h.flavors.PatchConfig(c.UserContext(), c.Params("id"), req.Config)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, fiber.Map{"id": version.ID, "version": version.Version})
}
