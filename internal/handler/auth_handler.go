package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/auth"
)

// AuthHandler answers the API gateway's ForwardAuth check
type AuthHandler struct {
	auth *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: authenticator}
}

// Verify handles GET /auth/verify. On success the identity is returned in
// X-User-* headers for the gateway to forward.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	identity, err := h.auth.Authenticate(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", identity.UserID)
	c.Set("X-User-Email", identity.Email)
	c.Set("X-User-Name", identity.Name)
	return c.SendStatus(fiber.StatusOK)
}
