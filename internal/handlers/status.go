package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"presence-backend/internal/models"
	"presence-backend/internal/services"
)

// StoreStatus reports whether the message store is reachable.
type StoreStatus interface {
	Status() string
}

// MessageHistory reads persisted whispers.
type MessageHistory interface {
	MessagesForUser(ctx context.Context, userID string, limit int) ([]models.Message, error)
}

func HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// StatusHandler exposes gate state and registry size for operators.
func StatusHandler(registry *services.Registry, store StoreStatus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rooms, connections := registry.Stats()
		return c.JSON(models.StatusResponse{
			Store:       store.Status(),
			Rooms:       rooms,
			Connections: connections,
		})
	}
}

// RoomMembersHandler returns the current presence snapshot of a room.
func RoomMembersHandler(registry *services.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roomID := c.Params("room_id")
		if !registry.HasRoom(roomID) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		members := registry.Members(roomID)
		if members == nil {
			members = []models.Member{}
		}
		return c.JSON(models.PresenceSnapshot{RoomID: roomID, Members: members})
	}
}

// UserMessagesHandler returns a user's recent whispers. When the store is
// offline the list is empty and the store field says so.
func UserMessagesHandler(history MessageHistory, store StoreStatus, maxLimit int, timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if userID == "" {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "user_id required"})
		}
		limit := c.QueryInt("limit", maxLimit)
		if limit <= 0 || limit > maxLimit {
			limit = maxLimit
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		messages, err := history.MessagesForUser(ctx, userID, limit)
		if err != nil {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to fetch messages"})
		}
		return c.JSON(fiber.Map{
			"userId":   userID,
			"messages": messages,
			"store":    store.Status(),
		})
	}
}
