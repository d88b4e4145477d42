package models

// Member is the public view of one connection joined to a room. The same user
// on two devices appears as two members.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	IsSpeaking   bool   `json:"isSpeaking"`
}

type PresenceSnapshot struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}

type ActivityChanged struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	IsSpeaking   bool   `json:"isSpeaking"`
}

// StatusResponse is served on /status for operational visibility.
type StatusResponse struct {
	Store       string `json:"store"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}
