package models

import "encoding/json"

// Message is a whisper accepted by the relay. Ciphertext is opaque and is
// never inspected or transformed by the server.
type Message struct {
	ID         string `json:"id" bson:"_id"`
	SenderID   string `json:"senderId" bson:"senderId"`
	ReceiverID string `json:"receiverId" bson:"receiverId"`
	Ciphertext string `json:"ciphertext" bson:"ciphertext"`
	Kind       string `json:"kind" bson:"kind"`
	RoomID     string `json:"roomId,omitempty" bson:"roomId,omitempty"`
	Timestamp  int64  `json:"timestamp" bson:"timestamp"` // ms since epoch, server-assigned
	Read       bool   `json:"read" bson:"read"`
}

const DefaultMessageKind = "text"

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound command names.
const (
	CommandJoin        = "join"
	CommandLeave       = "leave"
	CommandSetActivity = "setActivity"
	CommandSendMessage = "sendMessage"
	CommandPing        = "ping"
)

// Outbound event names.
const (
	EventConnected        = "connected"
	EventPresenceSnapshot = "presenceSnapshot"
	EventActivityChanged  = "activityChanged"
	EventMessageDelivered = "messageDelivered"
	EventError            = "error"
	EventPong             = "pong"
)

type JoinCommand struct {
	RoomID      string `json:"roomId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	DisplayName string `json:"displayName"`
}

type LeaveCommand struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SetActivityCommand struct {
	RoomID     string `json:"roomId" validate:"required"`
	IsSpeaking bool   `json:"isSpeaking"`
}

type SendMessageCommand struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Ciphertext string `json:"ciphertext"`
	Kind       string `json:"kind,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
}

type PingCommand struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ConnectedEvent struct {
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

type ErrorEvent struct {
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}

type PongEvent struct {
	Timestamp int64 `json:"timestamp"`
}
