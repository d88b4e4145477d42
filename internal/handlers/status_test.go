package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-backend/internal/models"
	"presence-backend/internal/services"
)

type fakeStatus string

func (s fakeStatus) Status() string { return string(s) }

type fakeHistory struct {
	messages  []models.Message
	err       error
	lastUser  string
	lastLimit int
}

func (h *fakeHistory) MessagesForUser(_ context.Context, userID string, limit int) ([]models.Message, error) {
	h.lastUser, h.lastLimit = userID, limit
	return h.messages, h.err
}

func newStatusApp(registry *services.Registry, history MessageHistory, store StoreStatus) *fiber.App {
	app := fiber.New()
	app.Get("/health", HealthHandler)
	app.Get("/status", StatusHandler(registry, store))
	app.Get("/api/rooms/:room_id/members", RoomMembersHandler(registry))
	app.Get("/api/users/:user_id/messages", UserMessagesHandler(history, store, 50, time.Second))
	return app
}

func getJSON(t *testing.T, app *fiber.App, path string, out interface{}) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestStatusEndpoints(t *testing.T) {
	registry := services.NewRegistry(nil, testLog)
	for _, id := range []string{"a", "b"} {
		registry.Connect(&mockConn{id: id})
	}
	_, err := registry.Join("a", "r1", "alice", "Alice")
	require.NoError(t, err)
	_, err = registry.Join("b", "r1", "bob", "Bob")
	require.NoError(t, err)
	app := newStatusApp(registry, &fakeHistory{}, fakeStatus("disconnected"))

	t.Run("health", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusOK, getJSON(t, app, "/health", &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("status", func(t *testing.T) {
		var body models.StatusResponse
		assert.Equal(t, http.StatusOK, getJSON(t, app, "/status", &body))
		assert.Equal(t, models.StatusResponse{Store: "disconnected", Rooms: 1, Connections: 2}, body)
	})

	t.Run("room members", func(t *testing.T) {
		var body models.PresenceSnapshot
		assert.Equal(t, http.StatusOK, getJSON(t, app, "/api/rooms/r1/members", &body))
		assert.Equal(t, "r1", body.RoomID)
		require.Len(t, body.Members, 2)
		assert.Equal(t, "a", body.Members[0].ConnectionID)
		assert.Equal(t, "b", body.Members[1].ConnectionID)
	})

	t.Run("unknown room", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusNotFound, getJSON(t, app, "/api/rooms/nope/members", &body))
		assert.Equal(t, "room not found", body["error"])
	})
}

func TestUserMessagesHandler(t *testing.T) {
	registry := services.NewRegistry(nil, testLog)

	t.Run("returns history with store state", func(t *testing.T) {
		history := &fakeHistory{messages: []models.Message{{ID: "m1", SenderID: "alice", ReceiverID: "bob"}}}
		app := newStatusApp(registry, history, fakeStatus("connected"))

		var body struct {
			UserID   string           `json:"userId"`
			Messages []models.Message `json:"messages"`
			Store    string           `json:"store"`
		}
		assert.Equal(t, http.StatusOK, getJSON(t, app, "/api/users/bob/messages?limit=5", &body))
		assert.Equal(t, "bob", body.UserID)
		assert.Equal(t, "connected", body.Store)
		assert.Equal(t, history.messages, body.Messages)
		assert.Equal(t, "bob", history.lastUser)
		assert.Equal(t, 5, history.lastLimit)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		history := &fakeHistory{messages: []models.Message{}}
		app := newStatusApp(registry, history, fakeStatus("connected"))

		getJSON(t, app, "/api/users/bob/messages?limit=5000", nil)
		assert.Equal(t, 50, history.lastLimit)
		getJSON(t, app, "/api/users/bob/messages?limit=-1", nil)
		assert.Equal(t, 50, history.lastLimit)
	})

	t.Run("offline store reads empty", func(t *testing.T) {
		app := newStatusApp(registry, &fakeHistory{messages: []models.Message{}}, fakeStatus("disconnected"))

		var body map[string]interface{}
		assert.Equal(t, http.StatusOK, getJSON(t, app, "/api/users/bob/messages", &body))
		assert.Equal(t, []interface{}{}, body["messages"])
		assert.Equal(t, "disconnected", body["store"])
	})

	t.Run("store error", func(t *testing.T) {
		app := newStatusApp(registry, &fakeHistory{err: errors.New("boom")}, fakeStatus("connected"))

		var body map[string]string
		assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, app, "/api/users/bob/messages", &body))
		assert.Equal(t, "failed to fetch messages", body["error"])
	})
}
