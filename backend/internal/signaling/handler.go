package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BioHazard786/Warpmeet/backend/internal/presence"
)

// maxBodySize caps request bodies; every action takes a handful of ids.
const maxBodySize = 16 * 1024

// Handler is the request/response signaling surface over the presence store.
// It keeps no state of its own and is safe for concurrent use.
type Handler struct {
	store  *presence.Store
	logger *slog.Logger
}

// NewHandler creates a Handler backed by store.
func NewHandler(store *presence.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// ServeHTTP decodes the request, dispatches on its action and writes either
// the action's response or an ErrorResponse. Panics become 500s.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req Request
	status := http.StatusOK

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("signaling handler panic", "action", req.Action, "panic", rec)
			status = http.StatusInternalServerError
			writeError(w, Internal("unexpected error"))
		}
		h.logger.Debug("signaling request",
			"method", r.Method,
			"action", req.Action,
			"status", status,
			"duration", time.Since(start),
		)
	}()

	resp, err := h.handle(r, &req)
	if err != nil {
		e := toError(err)
		status = e.Status
		if e.Status >= http.StatusInternalServerError {
			h.logger.Error("signaling request failed", "action", req.Action, "error", err)
		}
		writeError(w, e)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handle(r *http.Request, req *Request) (any, error) {
	if err := decodeRequest(r, req); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionJoinRoom:
		return h.joinRoom(req)
	case ActionLeaveRoom:
		return h.leaveRoom(req)
	case ActionGetRoomUsers:
		return h.getRoomUsers(req)
	case ActionPing:
		return h.ping(req)
	case ActionToggleAudio, ActionToggleVideo:
		return h.toggle(req)
	case "":
		return nil, BadRequest("action is required")
	default:
		return nil, BadRequest("unknown action %q", req.Action)
	}
}

func (h *Handler) joinRoom(req *Request) (any, error) {
	if err := requireParams(req.RoomID, "room_id", req.ParticipantID, "participant_id"); err != nil {
		return nil, err
	}

	res := h.store.Join(req.RoomID, req.ParticipantID)
	h.logger.Info("participant joined", "room_id", req.RoomID, "participant_id", req.ParticipantID, "others", len(res.RoomUsers))

	return JoinResponse{SessionID: res.SessionID, RoomUsers: res.RoomUsers}, nil
}

func (h *Handler) leaveRoom(req *Request) (any, error) {
	if err := requireParams(req.RoomID, "room_id", req.ParticipantID, "participant_id"); err != nil {
		return nil, err
	}

	h.store.Leave(req.RoomID, req.ParticipantID)
	h.logger.Info("participant left", "room_id", req.RoomID, "participant_id", req.ParticipantID)

	return SuccessResponse{Success: true}, nil
}

func (h *Handler) getRoomUsers(req *Request) (any, error) {
	if err := requireParams(req.RoomID, "room_id"); err != nil {
		return nil, err
	}
	if req.ParticipantID != "" {
		h.store.TouchMember(req.RoomID, req.ParticipantID)
	}
	return UsersResponse{Users: h.store.ListMembers(req.RoomID)}, nil
}

func (h *Handler) ping(req *Request) (any, error) {
	if err := requireParams(req.SessionID, "session_id"); err != nil {
		return nil, err
	}
	if err := h.store.Touch(req.SessionID); err != nil {
		return nil, err
	}
	return SuccessResponse{Success: true}, nil
}

// toggle only echoes who should hear about the change. Peers learn the new
// state through their own side channels or the next poll.
func (h *Handler) toggle(req *Request) (any, error) {
	if err := requireParams(req.RoomID, "room_id", req.ParticipantID, "participant_id"); err != nil {
		return nil, err
	}

	affected, err := h.store.OtherMembers(req.RoomID, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	h.store.TouchMember(req.RoomID, req.ParticipantID)

	return ToggleResponse{
		Success:   true,
		EventName: req.Action,
		Target:    req.ParticipantID,
		Affected:  affected,
		Enabled:   req.Enabled,
	}, nil
}

// decodeRequest merges the JSON body (if any) with the query string. Body
// values win over query values.
func decodeRequest(r *http.Request, req *Request) error {
	if r.Body != nil && r.Method != http.MethodGet {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			return BadRequest("failed to read body")
		}
		if len(body) > maxBodySize {
			return BadRequest("request body too large")
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, req); err != nil {
				return BadRequest("invalid JSON body")
			}
		}
	}

	q := r.URL.Query()
	fill(&req.Action, q.Get("action"))
	fill(&req.RoomID, q.Get("room_id"))
	fill(&req.ParticipantID, q.Get("participant_id"))
	fill(&req.SessionID, q.Get("session_id"))
	if req.Enabled == nil {
		switch q.Get("enabled") {
		case "true", "1":
			v := true
			req.Enabled = &v
		case "false", "0":
			v := false
			req.Enabled = &v
		}
	}

	req.Action = strings.TrimSpace(req.Action)
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	return nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// requireParams takes (value, name) pairs and rejects the first missing or
// oversized one.
func requireParams(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		value, name := pairs[i], pairs[i+1]
		if value == "" {
			return BadRequest("%s is required", name)
		}
		if len(value) > maxIDLength {
			return BadRequest("%s is too long", name)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, ErrorResponse{Error: e.Message, Code: e.Code})
}
