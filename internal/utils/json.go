package utils

import (
	"encoding/json"
	"fmt"

	"presence-backend/internal/models"
)

// EncodeEvent wraps payload in an envelope and returns the frame bytes.
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// DecodeEnvelope parses an inbound frame. The payload stays raw until the
// command type is known.
func DecodeEnvelope(frame []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return models.Envelope{}, err
	}
	if env.Event == "" {
		return models.Envelope{}, fmt.Errorf("missing event name")
	}
	return env, nil
}
