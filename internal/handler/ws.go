package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	ws "github.com/qasim313/Unbrandit/internal/websocket"
)

// RequireUpgrade rejects plain HTTP requests on the live-updates route.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// LiveUpdates handles GET /ws. The session's identity comes from the auth
// middleware that ran before the upgrade.
func LiveUpdates(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userId").(string)
		if userID == "" {
			_ = c.Close()
			return
		}
		hub.HandleConnection(c, userID)
	})
}
