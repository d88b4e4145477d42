package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"presence-backend/internal/models"
	"presence-backend/internal/services"
	"presence-backend/internal/utils"
)

// Handler dispatches inbound commands from one connection. Every frame is
// handled in isolation: a bad frame never affects other connections.
type Handler struct {
	registry *services.Registry
	relay    *services.Relay
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(registry *services.Registry, relay *services.Relay, log *slog.Logger) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		registry: registry,
		relay:    relay,
		validate: validate,
		log:      log,
	}
}

// Connect registers a freshly accepted transport.
func (h *Handler) Connect(conn models.Connection) {
	h.registry.Connect(conn)
}

// Disconnect purges the connection from every room and closes it. Safe to
// call more than once.
func (h *Handler) Disconnect(conn models.Connection) {
	changes := h.registry.Purge(conn.ID())
	if len(changes) > 0 {
		h.log.Info("connection left rooms", "connectionId", conn.ID(), "rooms", len(changes))
	}
	_ = conn.Close()
}

func (h *Handler) Handle(conn models.Connection, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("command handler panic", "connectionId", conn.ID(), "panic", r)
		}
	}()

	env, err := utils.DecodeEnvelope(frame)
	if err != nil {
		h.log.Warn("invalid frame", "connectionId", conn.ID(), "error", err)
		return
	}

	switch env.Event {
	case models.CommandJoin:
		h.handleJoin(conn, env.Data)
	case models.CommandLeave:
		h.handleLeave(conn, env.Data)
	case models.CommandSetActivity:
		h.handleSetActivity(conn, env.Data)
	case models.CommandSendMessage:
		h.handleSendMessage(conn, env.Data)
	case models.CommandPing:
		h.handlePing(conn, env.Data)
	default:
		h.log.Warn("unknown event", "connectionId", conn.ID(), "event", env.Event)
	}
}

func (h *Handler) handleJoin(conn models.Connection, data json.RawMessage) {
	var cmd models.JoinCommand
	if err := h.decode(data, &cmd, services.ErrInvalidJoin); err != nil {
		h.replyError(conn, models.CommandJoin, err)
		return
	}
	if _, err := h.registry.Join(conn.ID(), cmd.RoomID, cmd.UserID, cmd.DisplayName); err != nil {
		h.replyError(conn, models.CommandJoin, err)
	}
}

func (h *Handler) handleLeave(conn models.Connection, data json.RawMessage) {
	var cmd models.LeaveCommand
	if err := h.decode(data, &cmd, services.ErrInvalidCommand); err != nil {
		h.replyError(conn, models.CommandLeave, err)
		return
	}
	if _, ok := h.registry.Leave(conn.ID(), cmd.RoomID); !ok {
		h.log.Debug("leave for a room not joined", "connectionId", conn.ID(), "room", cmd.RoomID)
	}
}

func (h *Handler) handleSetActivity(conn models.Connection, data json.RawMessage) {
	var cmd models.SetActivityCommand
	if err := h.decode(data, &cmd, services.ErrInvalidCommand); err != nil {
		h.replyError(conn, models.CommandSetActivity, err)
		return
	}
	h.registry.SetActivity(conn.ID(), cmd.RoomID, cmd.IsSpeaking)
}

func (h *Handler) handleSendMessage(conn models.Connection, data json.RawMessage) {
	var cmd models.SendMessageCommand
	if err := h.decode(data, &cmd, services.ErrInvalidMessage); err != nil {
		h.replyError(conn, models.CommandSendMessage, err)
		return
	}
	msg, err := h.relay.Relay(conn.ID(), cmd)
	if err != nil {
		h.replyError(conn, models.CommandSendMessage, err)
		return
	}
	// Delivery acknowledgment, not a durability one.
	h.reply(conn, models.CommandSendMessage, models.EventMessageDelivered, msg)
}

func (h *Handler) handlePing(conn models.Connection, data json.RawMessage) {
	var cmd models.PingCommand
	if len(data) > 0 {
		_ = json.Unmarshal(data, &cmd)
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().UnixMilli()
	}
	h.reply(conn, models.CommandPing, models.EventPong, models.PongEvent{Timestamp: cmd.Timestamp})
}

// decode unmarshals and validates a command payload. Validation failures
// wrap invalid so callers can match on the sentinel.
func (h *Handler) decode(data json.RawMessage, dst interface{}, invalid error) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", invalid, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string { return fe.Field() })
			return fmt.Errorf("%w: missing %s", invalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", invalid, err)
	}
	return nil
}

func (h *Handler) reply(conn models.Connection, command, event string, payload interface{}) {
	frame, err := utils.EncodeEvent(event, payload)
	if err != nil {
		h.log.Error("encode reply", "event", event, "error", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		h.log.Warn("reply dropped", "connectionId", conn.ID(), "command", command, "event", event, "error", err)
	}
}

func (h *Handler) replyError(conn models.Connection, command string, err error) {
	h.log.Debug("command rejected", "connectionId", conn.ID(), "command", command, "error", err)
	h.reply(conn, command, models.EventError, models.ErrorEvent{Command: command, Error: err.Error()})
}
