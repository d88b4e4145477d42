package services

import (
	"log/slog"

	"presence-backend/internal/models"
	"presence-backend/internal/utils"
)

// PresenceBroadcaster turns registry changes into outbound events for every
// member of the affected room. Delivery is fire-and-forget.
type PresenceBroadcaster struct {
	log *slog.Logger
}

func NewPresenceBroadcaster(log *slog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log}
}

// MembershipChanged emits a full snapshot of the room.
func (p *PresenceBroadcaster) MembershipChanged(view RoomView) {
	if view.Recipients() == 0 {
		return
	}
	frame, err := utils.EncodeEvent(models.EventPresenceSnapshot, models.PresenceSnapshot{
		RoomID:  view.RoomID,
		Members: view.Members,
	})
	if err != nil {
		p.log.Error("encode presence snapshot", "room", view.RoomID, "error", err)
		return
	}
	p.fanout(view, frame)
}

// ActivityChanged emits a small delta instead of a full snapshot.
func (p *PresenceBroadcaster) ActivityChanged(view RoomView, connID string, speaking bool) {
	frame, err := utils.EncodeEvent(models.EventActivityChanged, models.ActivityChanged{
		RoomID:       view.RoomID,
		ConnectionID: connID,
		IsSpeaking:   speaking,
	})
	if err != nil {
		p.log.Error("encode activity change", "room", view.RoomID, "error", err)
		return
	}
	p.fanout(view, frame)
}

func (p *PresenceBroadcaster) fanout(view RoomView, frame []byte) {
	for _, id := range view.Send(frame) {
		// The member reconciles on the next snapshot.
		p.log.Warn("dropped room event", "room", view.RoomID, "connectionId", id)
	}
}
