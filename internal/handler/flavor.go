package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

type FlavorHandler struct {
	presenter
	service   *service.FlavorService
	validator *validator.Validate
}

func NewFlavorHandler(svc *service.FlavorService, resolver *service.BlobResolver, v *validator.Validate) *FlavorHandler {
	return &FlavorHandler{
		presenter: presenter{resolver: resolver},
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects/:id/flavors
// The initial configuration becomes snapshot version 1.
func (h *FlavorHandler) Create(c *fiber.Ctx) error {
	var req model.CreateFlavorRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	flavor, err := h.service.Create(c.UserContext(), userID(c), c.Params("id"), &req)
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusCreated, flavor)
}

// List handles GET /api/projects/:id/flavors
func (h *FlavorHandler) List(c *fiber.Ctx) error {
	flavors, err := h.service.List(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, fiber.Map{"flavors": flavors})
}

// Get handles GET /api/flavors/:id
func (h *FlavorHandler) Get(c *fiber.Ctx) error {
	flavor, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, flavor)
}

// SaveConfig handles PUT /api/flavors/:id/config
// Every save appends a new snapshot; earlier ones are never rewritten.
func (h *FlavorHandler) SaveConfig(c *fiber.Ctx) error {
	var req model.SaveFlavorConfigRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	version, err := h.service.SaveConfig(c.UserContext(), userID(c), c.Params("id"), req.Config)
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusCreated, version)
}

// Versions handles GET /api/flavors/:id/versions
func (h *FlavorHandler) Versions(c *fiber.Ctx) error {
	versions, err := h.service.Versions(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusOK, fiber.Map{"versions": versions})
}

// Rollback handles POST /api/flavors/:id/rollback
func (h *FlavorHandler) Rollback(c *fiber.Ctx) error {
	var req model.RollbackFlavorRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	version, err := h.service.Rollback(c.UserContext(), userID(c), c.Params("id"), req.VersionID)
	if err != nil {
		return respondError(c, err)
	}
	return h.send(c, fiber.StatusCreated, version)
}

// Delete handles DELETE /api/flavors/:id
func (h *FlavorHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), userID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return response.NoContent(c)
}
