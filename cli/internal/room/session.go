// Package room runs one participant's side of a room: presence, peer links,
// chat and media toggles.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/Warpmeet/cli/internal/chat"
	"github.com/BioHazard786/Warpmeet/cli/internal/orchestrator"
	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
	"github.com/BioHazard786/Warpmeet/cli/internal/transport"
)

// TogglePolicy decides when peers learn about a local media toggle.
type TogglePolicy string

const (
	// PolicyOptimistic broadcasts before the server confirms.
	PolicyOptimistic TogglePolicy = "optimistic"
	// PolicyConfirmed broadcasts only after the toggle action succeeds.
	PolicyConfirmed TogglePolicy = "confirmed"
)

// ParsePolicy maps a configuration value to a policy. Empty means optimistic.
func ParsePolicy(s string) (TogglePolicy, error) {
	switch TogglePolicy(s) {
	case "", PolicyOptimistic:
		return PolicyOptimistic, nil
	case PolicyConfirmed:
		return PolicyConfirmed, nil
	}
	return "", fmt.Errorf("unknown toggle policy %q", s)
}

var ErrStopped = errors.New("room session stopped")

// Transport is what the session needs from the resilient transport.
type Transport interface {
	orchestrator.EventSource
	Emit(ctx context.Context, cmd transport.Command) error
	Toggle(ctx context.Context, media transport.Media, enabled bool) ([]string, error)
	Disconnect(ctx context.Context)
	Done() <-chan struct{}
}

// MediaSource is a local stream that can be muted. *media.Source
// implements it.
type MediaSource interface {
	peer.LocalMedia
	SetEnabled(enabled bool)
	Start(ctx context.Context)
	Stop()
}

// Options configures a Session.
type Options struct {
	RoomID        string
	ParticipantID string
	Transport     Transport
	Network       peer.Network
	Chat          *chat.Manager
	// Media is nil in signaling-only mode.
	Media  MediaSource
	Policy TogglePolicy
	Logger *slog.Logger
}

// Session is one participant in one room.
type Session struct {
	roomID        string
	participantID string
	transport     Transport
	net           peer.Network
	chat          *chat.Manager
	media         MediaSource
	orch          *orchestrator.Orchestrator
	policy        TogglePolicy
	logger        *slog.Logger

	unbind   func()
	closers  []func()
	stopOnce sync.Once

	mu      sync.Mutex
	state   chat.MediaState
	stopped bool
}

// New wires the orchestrator to the transport and the chat manager.
func New(opts Options) (*Session, error) {
	if opts.RoomID == "" || opts.ParticipantID == "" {
		return nil, errors.New("room and participant id are required")
	}
	if opts.Transport == nil || opts.Network == nil || opts.Chat == nil {
		return nil, errors.New("transport, network and chat are required")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyOptimistic
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		roomID:        opts.RoomID,
		participantID: opts.ParticipantID,
		transport:     opts.Transport,
		net:           opts.Network,
		chat:          opts.Chat,
		media:         opts.Media,
		policy:        opts.Policy,
		logger:        opts.Logger.With("room_id", opts.RoomID),
		state:         chat.MediaState{Audio: opts.Media != nil},
	}

	orchOpts := orchestrator.Options{Sink: opts.Chat, Logger: opts.Logger}
	if opts.Media != nil {
		orchOpts.Media = opts.Media
	}
	s.orch = orchestrator.New(opts.Network, orchOpts)
	s.unbind = s.orch.Bind(opts.Transport)

	// Every side channel that opens gets the current state, whether the
	// call's stream or the channel came first.
	s.orch.OnChannelOpen(func(remote string) {
		if err := s.chat.SendMediaState(remote, s.MediaState()); err != nil {
			s.logger.Debug("failed to announce media state", "remote", remote, "error", err)
		}
	})
	return s, nil
}

// Start begins sending local media and joins the room.
func (s *Session) Start(ctx context.Context) error {
	if s.media != nil {
		s.media.Start(ctx)
	}
	return s.transport.Emit(ctx, transport.JoinRoom{RoomID: s.roomID, ParticipantID: s.participantID})
}

// Stop leaves the room and tears down every peer link. It is idempotent.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.transport.Disconnect(ctx)
		s.unbind()
		s.orch.Close()
		if err := s.net.Close(); err != nil {
			s.logger.Debug("failed to close peer network", "error", err)
		}
		if s.media != nil {
			s.media.Stop()
		}
		for _, fn := range s.closers {
			fn()
		}
	})
}

// On subscribes fn to transport events of kind.
func (s *Session) On(kind transport.Kind, fn transport.Handler) transport.Subscription {
	return s.transport.On(kind, fn)
}

// Done is closed once the transport delivered its final event.
func (s *Session) Done() <-chan struct{} { return s.transport.Done() }

func (s *Session) RoomID() string                           { return s.roomID }
func (s *Session) ParticipantID() string                    { return s.participantID }
func (s *Session) Chat() *chat.Manager                      { return s.chat }
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Send posts text to the room chat. It reports whether any peer received it.
func (s *Session) Send(text string) (bool, error) { return s.chat.Send(text) }

// MediaState is the local audio/video state as announced to peers.
func (s *Session) MediaState() chat.MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetAudio toggles the local audio track.
func (s *Session) SetAudio(ctx context.Context, enabled bool) error {
	return s.toggle(ctx, transport.Audio, enabled)
}

// SetVideo toggles the local video state. There is no local video track;
// the state is announced to peers only.
func (s *Session) SetVideo(ctx context.Context, enabled bool) error {
	return s.toggle(ctx, transport.Video, enabled)
}

func (s *Session) toggle(ctx context.Context, media transport.Media, enabled bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	if s.policy == PolicyConfirmed {
		if _, err := s.transport.Toggle(ctx, media, enabled); err != nil {
			return fmt.Errorf("toggle %s: %w", media, err)
		}
		s.apply(media, enabled)
		return nil
	}

	s.apply(media, enabled)
	if _, err := s.transport.Toggle(ctx, media, enabled); err != nil {
		return fmt.Errorf("toggle %s: %w", media, err)
	}
	return nil
}

// apply records the new state, mutes or unmutes the track and tells peers.
func (s *Session) apply(media transport.Media, enabled bool) {
	s.mu.Lock()
	if media == transport.Video {
		s.state.Video = enabled
	} else {
		s.state.Audio = enabled
	}
	st := s.state
	s.mu.Unlock()

	if media == transport.Audio && s.media != nil {
		s.media.SetEnabled(enabled)
	}
	n, err := s.chat.BroadcastMediaState(st)
	if err != nil {
		s.logger.Warn("failed to broadcast media state", "error", err)
		return
	}
	s.logger.Debug("media state broadcast", "media", string(media), "enabled", enabled, "peers", n)
}
