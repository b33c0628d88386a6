package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BioHazard786/Warpmeet/cli/internal/dns"
)

// StatusError is a non-2xx answer from the signaling endpoint.
type StatusError struct {
	Action  string
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Action, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Action, e.Status, http.StatusText(e.Status))
}

// Endpoint is an HTTP client for the request/response signaling endpoint.
type Endpoint struct {
	url    string
	client *http.Client
}

// NewEndpoint creates an Endpoint for url. A nil client gets one that
// resolves hosts through the fallback resolver.
func NewEndpoint(url string, client *http.Client) *Endpoint {
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dns.NewResolver().DialContext
		client = &http.Client{Transport: transport, Timeout: 10 * time.Second}
	}
	return &Endpoint{url: url, client: client}
}

// Join enters roomID and returns the session id and the members already there.
func (e *Endpoint) Join(ctx context.Context, roomID, participantID string) (*JoinResponse, error) {
	var resp JoinResponse
	err := e.do(ctx, Request{Action: ActionJoinRoom, RoomID: roomID, ParticipantID: participantID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Leave announces departure from roomID.
func (e *Endpoint) Leave(ctx context.Context, roomID, participantID string) error {
	return e.do(ctx, Request{Action: ActionLeaveRoom, RoomID: roomID, ParticipantID: participantID}, &SuccessResponse{})
}

// Users lists the members of roomID. participantID, when set, also counts
// as activity for that member.
func (e *Endpoint) Users(ctx context.Context, roomID, participantID string) ([]string, error) {
	var resp UsersResponse
	err := e.do(ctx, Request{Action: ActionGetRoomUsers, RoomID: roomID, ParticipantID: participantID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Ping keeps sessionID alive.
func (e *Endpoint) Ping(ctx context.Context, sessionID string) error {
	return e.do(ctx, Request{Action: ActionPing, SessionID: sessionID}, &SuccessResponse{})
}

// Toggle announces an audio or video state change and returns who is affected.
func (e *Endpoint) Toggle(ctx context.Context, action, roomID, participantID string, enabled bool) (*ToggleResponse, error) {
	var resp ToggleResponse
	err := e.do(ctx, Request{
		Action:        action,
		RoomID:        roomID,
		ParticipantID: participantID,
		Enabled:       &enabled,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Endpoint) do(ctx context.Context, req Request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"?action="+req.Action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", req.Action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		return &StatusError{Action: req.Action, Status: resp.StatusCode, Code: er.Code, Message: er.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.Action, err)
	}
	return nil
}
