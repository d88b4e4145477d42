package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"presence-backend/internal/models"
)

type TransportConfig struct {
	SendBufferSize int
	MaxMessageSize int
}

// WebSocketHandler handles the websocket connection
func WebSocketHandler(h *Handler, cfg TransportConfig, log *slog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		// Generate a unique ID for this connection
		client := NewClient(uuid.New().String(), c, cfg.SendBufferSize, log)

		h.Connect(client)
		go client.writePump()
		defer func() {
			h.Disconnect(client)
			<-client.Stopped()
		}()

		h.reply(client, "", models.EventConnected, models.ConnectedEvent{
			ConnectionID: client.ID(),
			Message:      "Welcome to the presence server",
		})

		client.readPump(cfg.MaxMessageSize, func(frame []byte) {
			h.Handle(client, frame)
		})
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
