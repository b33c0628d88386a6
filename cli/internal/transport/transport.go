package transport

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/Warpmeet/cli/internal/signaling"
)

// Endpoint is the request/response signaling surface the transport polls.
// *signaling.Endpoint implements it.
type Endpoint interface {
	Join(ctx context.Context, roomID, participantID string) (*signaling.JoinResponse, error)
	Leave(ctx context.Context, roomID, participantID string) error
	Users(ctx context.Context, roomID, participantID string) ([]string, error)
	Ping(ctx context.Context, sessionID string) error
	Toggle(ctx context.Context, action, roomID, participantID string, enabled bool) (*signaling.ToggleResponse, error)
}

// State is the connection state as seen by the caller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Default polling and reconnection parameters.
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxAttempts   = 5
	DefaultReconnectStep = time.Second
	leaveTimeout         = 3 * time.Second
)

// Options tunes a Transport. Zero values take the defaults.
type Options struct {
	PollInterval  time.Duration
	MaxAttempts   int
	ReconnectStep time.Duration
	Logger        *slog.Logger
}

// Transport turns periodic polling of the signaling endpoint into a
// connection-like stream of presence events.
type Transport struct {
	endpoint Endpoint
	opts     Options
	logger   *slog.Logger
	events   *dispatcher

	mu            sync.Mutex
	state         State
	roomID        string
	participantID string
	sessionID     string
	snapshot      map[string]struct{}
	err           error
	cancel        context.CancelFunc

	wg sync.WaitGroup
}

// New creates an idle Transport. Its event dispatcher runs until Disconnect.
func New(endpoint Endpoint, opts Options) *Transport {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ReconnectStep <= 0 {
		opts.ReconnectStep = DefaultReconnectStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Transport{
		endpoint: endpoint,
		opts:     opts,
		logger:   opts.Logger,
		events:   newDispatcher(opts.Logger),
		snapshot: make(map[string]struct{}),
	}
}

// On registers fn for events of kind. Handlers of one kind run in
// registration order.
func (t *Transport) On(kind Kind, fn Handler) Subscription {
	return t.events.on(kind, fn)
}

// Off removes a handler registered with On.
func (t *Transport) Off(sub Subscription) {
	t.events.off(sub)
}

// Done is closed once the final Disconnected event has been delivered.
func (t *Transport) Done() <-chan struct{} {
	return t.events.done
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns ErrReconnectFailed (wrapped) after reconnection gave up.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SessionID returns the current session id, empty before joining.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Members returns the last successful membership snapshot, excluding the
// local participant.
func (t *Transport) Members() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.snapshot)
}

// Emit executes cmd.
func (t *Transport) Emit(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case JoinRoom:
		return t.join(ctx, c)
	case Toggle:
		_, err := t.Toggle(ctx, c.Media, c.Enabled)
		return err
	default:
		return NewError("emit", ErrValidation)
	}
}

func (t *Transport) join(ctx context.Context, cmd JoinRoom) error {
	if cmd.RoomID == "" || cmd.ParticipantID == "" {
		return WrapError("join", ErrValidation, "room and participant id are required")
	}

	t.mu.Lock()
	switch t.state {
	case StateClosed:
		t.mu.Unlock()
		return NewError("join", ErrClosed)
	case StateConnecting, StateConnected, StateReconnecting:
		t.mu.Unlock()
		return NewError("join", ErrAlreadyJoined)
	}
	t.state = StateConnecting
	t.roomID = cmd.RoomID
	t.participantID = cmd.ParticipantID
	t.err = nil
	t.mu.Unlock()

	t.events.emit(Connecting{})

	resp, err := t.endpoint.Join(ctx, cmd.RoomID, cmd.ParticipantID)
	if err != nil {
		err = classify("join", err)
		t.mu.Lock()
		if t.state == StateConnecting {
			t.state = StateIdle
		}
		t.mu.Unlock()
		t.logger.Warn("join failed", "room_id", cmd.RoomID, "error", err)
		t.events.emit(ConnectError{Err: err})
		return err
	}

	t.mu.Lock()
	if t.state != StateConnecting {
		// Disconnect won the race; undo the join we just made.
		t.mu.Unlock()
		t.leave(ctx, cmd.RoomID, cmd.ParticipantID)
		return NewError("join", ErrClosed)
	}
	if t.cancel != nil {
		t.cancel()
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.sessionID = resp.SessionID
	t.state = StateConnected
	// After a failed reconnect the snapshot is still the last one peers
	// were told about; diffing against it reports who left meanwhile.
	joined, left := t.applyLocked(resp.RoomUsers)
	members := len(t.snapshot)
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("joined room", "room_id", cmd.RoomID, "members", members)
	t.events.emit(Connected{SessionID: resp.SessionID})
	t.emitDiff(joined, left)

	go t.poll(pollCtx)
	return nil
}

// Toggle announces a media state change and returns the participants the
// server says are affected.
func (t *Transport) Toggle(ctx context.Context, media Media, enabled bool) ([]string, error) {
	action := signaling.ActionToggleAudio
	if media == Video {
		action = signaling.ActionToggleVideo
	}

	t.mu.Lock()
	state, room, participant := t.state, t.roomID, t.participantID
	t.mu.Unlock()
	if state == StateClosed {
		return nil, NewError(action, ErrClosed)
	}
	if state != StateConnected && state != StateReconnecting {
		return nil, NewError(action, ErrNotJoined)
	}

	resp, err := t.endpoint.Toggle(ctx, action, room, participant, enabled)
	if err != nil {
		return nil, classify(action, err)
	}
	return resp.Affected, nil
}

// Disconnect stops polling and any backoff wait, tells the server we left
// and delivers a final Disconnected event. It is idempotent and safe to call
// before joining.
func (t *Transport) Disconnect(ctx context.Context) {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	joined := t.sessionID != ""
	t.state = StateClosed
	room, participant := t.roomID, t.participantID
	cancel := t.cancel
	t.mu.Unlock()

	t.events.seal(Disconnected{})

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	if joined {
		t.leave(ctx, room, participant)
	}
}

// leave is best effort; the sweep removes us anyway once the TTL passes.
func (t *Transport) leave(ctx context.Context, room, participant string) {
	ctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()
	if err := t.endpoint.Leave(ctx, room, participant); err != nil {
		t.logger.Debug("leave-room failed", "room_id", room, "error", err)
	}
}

func (t *Transport) poll(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := t.tick(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		t.logger.Warn("poll failed, reconnecting", "error", err)
		if !t.reconnect(ctx, err) {
			return
		}
		ticker.Reset(t.opts.PollInterval)
	}
}

// tick sends a keepalive, fetches the member list and emits the difference
// from the previous successful snapshot.
func (t *Transport) tick(ctx context.Context) error {
	t.mu.Lock()
	session, room, participant := t.sessionID, t.roomID, t.participantID
	t.mu.Unlock()

	if err := t.endpoint.Ping(ctx, session); err != nil {
		return classify("ping", err)
	}
	users, err := t.endpoint.Users(ctx, room, participant)
	if err != nil {
		return classify("get-room-users", err)
	}

	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return nil
	}
	joined, left := t.applyLocked(users)
	t.mu.Unlock()

	t.emitDiff(joined, left)
	return nil
}

// reconnect re-joins with linear backoff. It returns false when the loop
// should stop, either because ctx ended or attempts ran out.
func (t *Transport) reconnect(ctx context.Context, cause error) bool {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return false
	}
	t.state = StateReconnecting
	room, participant := t.roomID, t.participantID
	t.mu.Unlock()

	lastErr := cause
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		delay := time.Duration(attempt) * t.opts.ReconnectStep
		t.events.emit(Reconnecting{Attempt: attempt, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		resp, err := t.endpoint.Join(ctx, room, participant)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			lastErr = classify("join", err)
			t.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", lastErr)
			continue
		}

		t.mu.Lock()
		if t.state != StateReconnecting {
			t.mu.Unlock()
			return false
		}
		t.state = StateConnected
		t.sessionID = resp.SessionID
		joined, left := t.applyLocked(resp.RoomUsers)
		t.mu.Unlock()

		t.logger.Info("reconnected", "room_id", room, "attempt", attempt)
		t.events.emit(Reconnected{Attempt: attempt})
		t.events.emit(Connected{SessionID: resp.SessionID})
		t.emitDiff(joined, left)
		return true
	}

	err := WrapError("reconnect", ErrReconnectFailed, lastErr.Error())
	t.mu.Lock()
	if t.state == StateReconnecting {
		t.state = StateFailed
		t.err = err
	}
	t.mu.Unlock()

	t.logger.Error("giving up on reconnection", "room_id", room, "attempts", t.opts.MaxAttempts, "error", lastErr)
	t.events.emit(ReconnectFailed{Attempts: t.opts.MaxAttempts, Err: err})
	return false
}

func (t *Transport) emitDiff(joined, left []string) {
	for _, id := range joined {
		t.events.emit(MemberJoined{ID: id})
	}
	for _, id := range left {
		t.events.emit(MemberLeft{ID: id})
	}
}

// applyLocked replaces the snapshot with users (minus the local participant)
// and returns who appeared and who disappeared.
func (t *Transport) applyLocked(users []string) (joined, left []string) {
	next := make(map[string]struct{}, len(users))
	for _, id := range users {
		if id != t.participantID && id != "" {
			next[id] = struct{}{}
		}
	}
	joined, left = diff(t.snapshot, next)
	t.snapshot = next
	return joined, left
}

func diff(prev, next map[string]struct{}) (joined, left []string) {
	for id := range next {
		if _, ok := prev[id]; !ok {
			joined = append(joined, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			left = append(left, id)
		}
	}
	sort.Strings(joined)
	sort.Strings(left)
	return joined, left
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
