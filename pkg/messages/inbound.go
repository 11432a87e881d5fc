package messages

import "encoding/json"

// Client to server event names
const (
	EventConnectToRoom = "connectToRoom"
	EventMove          = "move"
	EventGetBoard      = "getBoard"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "event" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StringPayload decodes a payload that carries a single JSON string, as used by
// connectToRoom and move. A missing payload decodes to the empty string.
func (m InboundMessage) StringPayload() (string, error) {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		return "", err
	}

	return s, nil
}
