package messaging

import (
	"encoding/json"
	"fmt"
)

// Message is the unit exchanged over a direct channel. The payload is opaque
// to this package.
type Message struct {
	Action  string `json:"action"`
	Origin  string `json:"origin"`
	Payload []byte `json:"payload,omitempty"`
}

// NewMessage creates a message from origin.
func NewMessage(action, origin string, payload []byte) *Message {
	return &Message{
		Action:  action,
		Origin:  origin,
		Payload: payload,
	}
}

func encodeMessage(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &m, nil
}
