package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/pkg/response"
)

const InternalTokenHeader = "X-Internal-Token"

// InternalAuth guards the control-plane routes used by the build worker
// with a shared secret. With no secret configured the routes answer 503 in
// production and are open in every other environment.
func InternalAuth(token string, production bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			if production {
				return response.ServiceUnavailable(c, "Internal API is not configured")
			}
			return c.Next()
		}

		presented := c.Get(InternalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logging.Warn().
				Str("ip", c.IP()).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Bool("token_present", presented != "").
				Msg("rejected internal API call")
			return response.Unauthorized(c, "Invalid internal token")
		}
		return c.Next()
	}
}
