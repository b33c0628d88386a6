package signaling

import "encoding/json"

// Message represents all relay websocket messages between CLI and server.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeSignal = "signal"
	MessageTypeError  = "error"
)

// Signal kinds carried in SignalPayload.Kind.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalBye       = "bye"
)

// Connection purposes. A media connection carries the call, a data
// connection carries one side channel.
const (
	PurposeMedia = "media"
	PurposeData  = "data"
)

// SignalPayload represents the WebRTC signaling data (SDP offer/answer or ICE candidate)
// for one peer connection, identified by ConnectionID.
type SignalPayload struct {
	Kind         string          `json:"kind"`
	ConnectionID string          `json:"connection_id"`
	Purpose      string          `json:"purpose,omitempty"`
	Label        string          `json:"label,omitempty"`
	Ordered      bool            `json:"ordered,omitempty"`
	SDP          string          `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// Signal is an inbound SignalPayload with its sender.
type Signal struct {
	From    string
	Payload SignalPayload
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
	To    string `json:"to,omitempty"`
}

// Endpoint actions.
const (
	ActionJoinRoom     = "join-room"
	ActionLeaveRoom    = "leave-room"
	ActionGetRoomUsers = "get-room-users"
	ActionPing         = "ping"
	ActionToggleAudio  = "toggle-audio"
	ActionToggleVideo  = "toggle-video"
)

// Request is the body sent to the signaling endpoint.
type Request struct {
	Action        string `json:"action"`
	RoomID        string `json:"room_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

type JoinResponse struct {
	SessionID string   `json:"session_id"`
	RoomUsers []string `json:"room_users"`
}

type UsersResponse struct {
	Users []string `json:"users"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ToggleResponse struct {
	Success   bool     `json:"success"`
	EventName string   `json:"event_name"`
	Target    string   `json:"target"`
	Affected  []string `json:"affected"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
