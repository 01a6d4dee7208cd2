package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/auth"
	"github.com/qasim313/Unbrandit/pkg/response"
)

// AuthMiddleware authenticates end users from a bearer token
type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(authenticator *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: authenticator}
}

// Authenticate validates the bearer token from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return m.handler(false)
}

// AuthenticateUpgrade also accepts ?token= because browsers cannot set
// headers on a WebSocket handshake.
func (m *AuthMiddleware) AuthenticateUpgrade() fiber.Handler {
	return m.handler(true)
}

func (m *AuthMiddleware) handler(allowQuery bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := auth.BearerToken(header)
		if !ok && allowQuery {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			if header == "" {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		identity, err := m.auth.Authenticate(token)
		if errors.Is(err, auth.ErrNotConfigured) {
			return response.Unauthorized(c, "Authentication not configured")
		}
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals("userId", id.UserID)
	c.Locals("email", id.Email)
	c.Locals("name", id.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
