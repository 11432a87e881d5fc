// Package messages defines the named JSON events exchanged with websocket clients.
package messages

// Server to client event names
const (
	EventNewConnection = "new connection"
	EventUpdate        = "update"
	EventError         = "error"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// NewConnectionPayload announces a newly connected client to everyone
type NewConnectionPayload struct {
	ID string `json:"id"`
}

// UpdatePayload carries the authoritative position of a session
type UpdatePayload struct {
	Session  string `json:"session"`
	Position string `json:"position"`
	Turn     string `json:"turn"`
	LastMove string `json:"last_move,omitempty"`
	Outcome  string `json:"outcome"`
	Method   string `json:"method,omitempty"`
}

// ErrorPayload names the kind of failure and a human readable detail
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
