package signaling

// Action names accepted by the endpoint.
const (
	ActionJoinRoom     = "join-room"
	ActionLeaveRoom    = "leave-room"
	ActionGetRoomUsers = "get-room-users"
	ActionPing         = "ping"
	ActionToggleAudio  = "toggle-audio"
	ActionToggleVideo  = "toggle-video"
)

// maxIDLength bounds room, participant and session identifiers.
const maxIDLength = 128

// Request carries the parameters of every action. Fields missing from the
// JSON body are filled from the query string.
type Request struct {
	Action        string `json:"action,omitempty"`
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
	Enabled   *bool    `json:"enabled,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
