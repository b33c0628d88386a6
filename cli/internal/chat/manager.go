// Package chat keeps the room's chat log and delivers messages over the
// side channels the orchestrator opens.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
)

// DefaultMaxLength bounds the text of a message, in runes.
const DefaultMaxLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrChannel        = errors.New("side channel fault")
)

// Options configures a Manager.
type Options struct {
	DisplayName string
	MaxLength   int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Manager is the message channel manager of one participant.
type Manager struct {
	localID string
	name    string
	maxLen  int
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	channels map[string]peer.Channel
	log      []Message
	seen     map[string]struct{}
	states   map[string]MediaState

	obsMu   sync.Mutex
	onMsg   []func(Message)
	onState []func(remote string, st MediaState)
}

// NewManager creates a manager for localID.
func NewManager(localID string, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DisplayName == "" {
		opts.DisplayName = localID
	}
	return &Manager{
		localID:  localID,
		name:     opts.DisplayName,
		maxLen:   opts.MaxLength,
		logger:   opts.Logger.With("component", "chat"),
		now:      opts.Now,
		channels: make(map[string]peer.Channel),
		seen:     make(map[string]struct{}),
		states:   make(map[string]MediaState),
	}
}

// Attach makes ch the channel to remote, replacing any previous one.
func (m *Manager) Attach(remote string, ch peer.Channel) {
	m.mu.Lock()
	m.channels[remote] = ch
	m.mu.Unlock()
	m.logger.Debug("side channel attached", "remote", remote)
}

// Detach forgets the channel to remote along with its media state.
func (m *Manager) Detach(remote string) {
	m.mu.Lock()
	delete(m.channels, remote)
	delete(m.states, remote)
	m.mu.Unlock()
}

// Peers returns the remotes with an attached channel.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for id := range m.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Send appends text to the local log and writes it to every open channel.
// It reports whether at least one channel accepted the message.
func (m *Manager) Send(text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > m.maxLen {
		return false, fmt.Errorf("%w: %d > %d characters", ErrMessageTooLong, n, m.maxLen)
	}

	at := m.now()
	p := ChatPayload{
		ID:         newID(m.localID, at),
		Text:       text,
		SenderID:   m.localID,
		SenderName: m.name,
		Timestamp:  at.UnixMilli(),
	}
	m.appendMessage(p.message(true))

	raw, err := encode(TypeChat, p)
	if err != nil {
		return false, err
	}
	return m.broadcast(raw) > 0, nil
}

// BroadcastMediaState announces the local audio/video state to every open
// channel and returns how many accepted it.
func (m *Manager) BroadcastMediaState(st MediaState) (int, error) {
	raw, err := encode(TypeMediaState, st)
	if err != nil {
		return 0, err
	}
	return m.broadcast(raw), nil
}

// SendMediaState announces st to remote alone.
func (m *Manager) SendMediaState(remote string, st MediaState) error {
	m.mu.Lock()
	ch, ok := m.channels[remote]
	m.mu.Unlock()
	if !ok || ch.State() != peer.ChannelOpen {
		return fmt.Errorf("%w: no open channel to %s", ErrChannel, remote)
	}

	raw, err := encode(TypeMediaState, st)
	if err != nil {
		return err
	}
	if err := ch.Send(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return nil
}

func (m *Manager) broadcast(raw []byte) int {
	m.mu.Lock()
	targets := make(map[string]peer.Channel, len(m.channels))
	for id, ch := range m.channels {
		targets[id] = ch
	}
	m.mu.Unlock()

	var delivered int
	for remote, ch := range targets {
		if ch.State() != peer.ChannelOpen {
			continue
		}
		if err := ch.Send(raw); err != nil {
			m.logger.Warn("failed to send on side channel", "remote", remote, "error", fmt.Errorf("%w: %v", ErrChannel, err))
			continue
		}
		delivered++
	}
	return delivered
}

// Receive handles one raw side channel message from remote. Malformed and
// incomplete messages are dropped.
func (m *Manager) Receive(remote string, raw []byte) {
	env, err := decode(raw)
	if err != nil {
		m.logger.Debug("dropping malformed message", "remote", remote, "error", err)
		return
	}

	switch env.Type {
	case TypeChat:
		var p ChatPayload
		if err := env.DecodePayload(&p); err != nil {
			m.logger.Debug("dropping malformed chat payload", "remote", remote, "error", err)
			return
		}
		if p.ID == "" || p.SenderID == "" || p.Text == "" {
			m.logger.Debug("dropping incomplete chat payload", "remote", remote)
			return
		}
		if n := utf8.RuneCountInString(p.Text); n > m.maxLen {
			m.logger.Debug("dropping oversized chat payload", "remote", remote, "runes", n)
			return
		}
		if p.SenderName == "" {
			p.SenderName = p.SenderID
		}
		m.appendMessage(p.message(p.SenderID == m.localID))

	case TypeMediaState:
		var st MediaState
		if err := env.DecodePayload(&st); err != nil {
			m.logger.Debug("dropping malformed media state", "remote", remote, "error", err)
			return
		}
		m.mu.Lock()
		m.states[remote] = st
		m.mu.Unlock()

		m.obsMu.Lock()
		fns := slices.Clone(m.onState)
		m.obsMu.Unlock()
		for _, fn := range fns {
			fn(remote, st)
		}

	default:
		m.logger.Debug("dropping unknown message type", "remote", remote, "type", env.Type)
	}
}

// appendMessage adds msg unless its id was already seen.
func (m *Manager) appendMessage(msg Message) bool {
	m.mu.Lock()
	if _, dup := m.seen[msg.ID]; dup {
		m.mu.Unlock()
		return false
	}
	m.seen[msg.ID] = struct{}{}
	m.log = append(m.log, msg)
	m.mu.Unlock()

	m.obsMu.Lock()
	fns := slices.Clone(m.onMsg)
	m.obsMu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return true
}

// Messages returns a snapshot of the log in arrival order.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.log...)
}

// MediaStates returns the last announced state of each attached peer.
func (m *Manager) MediaStates() map[string]MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]MediaState, len(m.states))
	for id, st := range m.states {
		out[id] = st
	}
	return out
}

// OnMessage registers fn for every message appended to the log.
func (m *Manager) OnMessage(fn func(Message)) {
	m.obsMu.Lock()
	m.onMsg = append(m.onMsg, fn)
	m.obsMu.Unlock()
}

// OnMediaState registers fn for media state announcements.
func (m *Manager) OnMediaState(fn func(remote string, st MediaState)) {
	m.obsMu.Lock()
	m.onState = append(m.onState, fn)
	m.obsMu.Unlock()
}
