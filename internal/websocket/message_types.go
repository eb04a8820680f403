package websocket

import (
	"encoding/json"

	"krewup-messaging/internal/models"
)

// Message types the hub writes. Hints are the only thing clients act on;
// errors answer inbound frames the hub does not accept.
const (
	MessageTypeInvalidate = models.HintTypeInvalidate
	MessageTypeError      = "error"
)

// ErrorPayload is sent when a client writes something the hub does not accept.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeHint(keys []string) ([]byte, error) {
	return json.Marshal(models.InvalidationHint{Type: MessageTypeInvalidate, Keys: keys})
}

func encodeError(message string) []byte {
	b, _ := json.Marshal(ErrorPayload{Type: MessageTypeError, Message: message})
	return b
}
