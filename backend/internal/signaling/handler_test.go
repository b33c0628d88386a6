package signaling

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Warpmeet/backend/internal/presence"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestHandler() (*Handler, *presence.Store, *testClock) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := presence.NewStore(presence.WithTTL(5*time.Minute), presence.WithClock(clock.Now))
	return NewHandler(store, nil), store, clock
}

func post(t *testing.T, h http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/signaling", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestJoinRoom_ReturnsExistingUsers(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[JoinResponse](t, rec)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, []string{}, first.RoomUsers)

	rec = post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[JoinResponse](t, rec)
	assert.Equal(t, []string{"u1"}, second.RoomUsers)

	rec = post(t, h, map[string]any{"action": "get-room-users", "room_id": "r1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1", "u2"}, decode[UsersResponse](t, rec).Users)
}

func TestLeaveRoom_ThenUsersEmpty(t *testing.T) {
	h, store, _ := newTestHandler()
	post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u1"})

	rec := post(t, h, map[string]any{"action": "leave-room", "room_id": "r1", "participant_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SuccessResponse](t, rec).Success)

	rec = post(t, h, map[string]any{"action": "get-room-users", "room_id": "r1"})
	assert.Equal(t, []string{}, decode[UsersResponse](t, rec).Users)
	assert.Equal(t, presence.Stats{}, store.Stats())

	// Leaving twice still succeeds.
	rec = post(t, h, map[string]any{"action": "leave-room", "room_id": "r1", "participant_id": "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPing(t *testing.T) {
	h, _, clock := newTestHandler()
	rec := post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u1"})
	session := decode[JoinResponse](t, rec).SessionID

	rec = post(t, h, map[string]any{"action": "ping", "session_id": session})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SuccessResponse](t, rec).Success)

	clock.now = clock.now.Add(6 * time.Minute)
	rec = post(t, h, map[string]any{"action": "ping", "session_id": session})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rec).Code)

	rec = post(t, h, map[string]any{"action": "ping", "session_id": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggle(t *testing.T) {
	h, _, _ := newTestHandler()
	post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u1"})
	post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u2"})

	rec := post(t, h, map[string]any{"action": "toggle-audio", "room_id": "r1", "participant_id": "u1", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ToggleResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "toggle-audio", resp.EventName)
	assert.Equal(t, "u1", resp.Target)
	assert.Equal(t, []string{"u2"}, resp.Affected)
	require.NotNil(t, resp.Enabled)
	assert.False(t, *resp.Enabled)

	rec = post(t, h, map[string]any{"action": "toggle-video", "room_id": "missing", "participant_id": "u1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryParameters(t *testing.T) {
	h, _, _ := newTestHandler()
	post(t, h, map[string]any{"action": "join-room", "room_id": "r1", "participant_id": "u1"})

	req := httptest.NewRequest(http.MethodGet, "/api/signaling?action=get-room-users&room_id=r1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, decode[UsersResponse](t, rec).Users)
}

func TestBadRequests(t *testing.T) {
	h, _, _ := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"missing action", `{}`},
		{"unknown action", `{"action":"dance"}`},
		{"join without participant", `{"action":"join-room","room_id":"r1"}`},
		{"join without room", `{"action":"join-room","participant_id":"u1"}`},
		{"ping without session", `{"action":"ping"}`},
		{"malformed body", `{"action":`},
		{"oversized id", `{"action":"join-room","room_id":"r1","participant_id":"` + strings.Repeat("x", 129) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/signaling", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "BAD_REQUEST", resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestToError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, toError(presence.ErrRoomNotFound).Status)
	assert.Equal(t, http.StatusNotFound, toError(presence.ErrSessionNotFound).Status)
	assert.Equal(t, http.StatusBadRequest, toError(BadRequest("x")).Status)

	e := toError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Equal(t, "INTERNAL_ERROR", e.Code)
}

func TestRequireParams(t *testing.T) {
	require.NoError(t, requireParams("r1", "room_id", "u1", "participant_id"))

	err := requireParams("r1", "room_id", "", "participant_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "participant_id is required")

	err = requireParams(strings.Repeat("x", maxIDLength+1), "room_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room_id is too long")
}
