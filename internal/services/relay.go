package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"presence-backend/internal/models"
	"presence-backend/internal/utils"
)

// Persister accepts messages for best-effort storage without blocking.
type Persister interface {
	Submit(msg models.Message) bool
}

// Relay delivers whispers to the receiver's private channel, independent of
// room membership and of store availability.
type Relay struct {
	registry  *Registry
	persister Persister
	now       func() time.Time
	log       *slog.Logger
}

func NewRelay(registry *Registry, persister Persister, log *slog.Logger) *Relay {
	return &Relay{
		registry:  registry,
		persister: persister,
		now:       time.Now,
		log:       log,
	}
}

// Relay builds the message, delivers it to every live connection of the
// receiver except fromConnID, and hands it to the persister. The returned
// message is the sender's delivery acknowledgment.
func (r *Relay) Relay(fromConnID string, cmd models.SendMessageCommand) (models.Message, error) {
	sender, ok := r.registry.Identity(fromConnID)
	if !ok {
		return models.Message{}, ErrUnknownConnection
	}
	receiverID := strings.TrimSpace(cmd.ReceiverID)
	if sender.UserID == "" || receiverID == "" {
		return models.Message{}, ErrInvalidMessage
	}

	kind := cmd.Kind
	if kind == "" {
		kind = models.DefaultMessageKind
	}
	msg := models.Message{
		ID:         uuid.New().String(),
		SenderID:   sender.UserID,
		ReceiverID: receiverID,
		Ciphertext: cmd.Ciphertext,
		Kind:       kind,
		RoomID:     cmd.RoomID,
		Timestamp:  r.now().UnixMilli(),
		Read:       false,
	}

	frame, err := utils.EncodeEvent(models.EventMessageDelivered, msg)
	if err != nil {
		return models.Message{}, err
	}

	delivered := 0
	for _, conn := range r.registry.UserConnections(receiverID) {
		if conn.ID() == fromConnID {
			continue
		}
		if err := conn.Send(frame); err != nil {
			r.log.Warn("whisper not delivered", "connectionId", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		r.log.Debug("whisper receiver offline", "receiverId", receiverID, "messageId", msg.ID)
	}

	if !r.persister.Submit(msg) {
		r.log.Warn("whisper not queued for storage", "messageId", msg.ID)
	}
	return msg, nil
}
