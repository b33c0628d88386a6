package signaling

import (
	"encoding/json"
	"log/slog"
)

// Handler routes incoming relay messages to appropriate channels.
type Handler struct {
	client *Client
	Signal chan *Signal
	Error  chan *ErrorPayload
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client: client,
		Signal: make(chan *Signal, 64),
		Error:  make(chan *ErrorPayload, 8),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the client's connection ends, after closing the handler channels.
func (h *Handler) Start() {
	defer h.close()

	for msg := range h.client.Incoming() {
		switch msg.Type {

		case MessageTypeSignal:
			h.handleSignal(msg)

		case MessageTypeError:
			h.handleError(msg)

		default:
			slog.Debug("ignoring relay message", "type", msg.Type)
		}
	}
}

// handleSignal parses the WebRTC signaling payload and sends it.
func (h *Handler) handleSignal(msg *Message) {
	var payload SignalPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.ConnectionID == "" {
		slog.Debug("dropping malformed signal", "from", msg.From, "error", err)
		return
	}

	h.Signal <- &Signal{From: msg.From, Payload: payload}
}

// handleError parses the error message and forwards it without blocking;
// relay errors are advisory.
func (h *Handler) handleError(msg *Message) {
	errPayload := &ErrorPayload{Error: "Unknown error from server"}
	if len(msg.Payload) > 0 {
		json.Unmarshal(msg.Payload, errPayload)
	}

	select {
	case h.Error <- errPayload:
	default:
		slog.Warn("relay error dropped", "error", errPayload.Error, "to", errPayload.To)
	}
}

func (h *Handler) close() {
	close(h.Signal)
	close(h.Error)
}
