package relay

import "encoding/json"

// Message is the envelope exchanged with relay clients. Payload is opaque to
// the hub; it carries SDP and ICE data between peer networks.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// client is the connection the message arrived on. Hub internal only.
	client *Client
}

// Message type constants.
const (
	MessageTypeSignal = "signal"
	MessageTypeError  = "error"
)

// ErrorPayload is sent back when a signal cannot be delivered.
type ErrorPayload struct {
	Error string `json:"error"`
	To    string `json:"to,omitempty"`
}

func errorMessage(text, to string) *Message {
	payload, _ := json.Marshal(ErrorPayload{Error: text, To: to})
	return &Message{Type: MessageTypeError, Payload: payload}
}
