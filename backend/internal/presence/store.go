package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSessionTTL is how long a session survives without a keepalive.
	DefaultSessionTTL = 5 * time.Minute

	// DefaultSweepInterval must stay shorter than DefaultSessionTTL.
	DefaultSweepInterval = 60 * time.Second
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Member is a participant currently present in a room.
type Member struct {
	ParticipantID string
	SessionID     string
	JoinedAt      time.Time
	LastSeen      time.Time
}

// Room holds the members keyed by participant id.
type Room struct {
	ID      string
	Members map[string]*Member
}

// Session binds a session id to the member it keeps alive.
type Session struct {
	ID            string
	ParticipantID string
	RoomID        string
	LastSeen      time.Time
}

// JoinResult is returned to a joining participant so it can call the
// existing members without waiting for a poll cycle.
type JoinResult struct {
	SessionID string
	RoomUsers []string
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

// Store is the authoritative registry of rooms and sessions.
//
// Every method takes the same mutex, so the sweep and all request handlers
// are mutually exclusive. Nothing here blocks on I/O.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*Session

	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultSessionTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used by the sweep loop.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the session time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Join adds participantID to roomID, creating the room if needed. A
// participant already in the room is replaced and gets a fresh session id.
func (s *Store) Join(roomID, participantID string) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	s.pruneLocked(roomID, now)

	room, ok := s.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, Members: make(map[string]*Member)}
		s.rooms[roomID] = room
	}

	if existing, ok := room.Members[participantID]; ok {
		delete(s.sessions, existing.SessionID)
	}

	sessionID := s.newID()
	room.Members[participantID] = &Member{
		ParticipantID: participantID,
		SessionID:     sessionID,
		JoinedAt:      now,
		LastSeen:      now,
	}
	s.sessions[sessionID] = &Session{
		ID:            sessionID,
		ParticipantID: participantID,
		RoomID:        roomID,
		LastSeen:      now,
	}

	return JoinResult{
		SessionID: sessionID,
		RoomUsers: room.others(participantID),
	}
}

// Leave removes participantID from roomID. Unknown rooms and members are
// ignored so departures never fail.
func (s *Store) Leave(roomID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	member, ok := room.Members[participantID]
	if !ok {
		return
	}
	s.removeLocked(room, member)
}

// ListMembers returns the participant ids in roomID, sorted. An unknown
// room has no members.
func (s *Store) ListMembers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(roomID, s.now())
	room, ok := s.rooms[roomID]
	if !ok {
		return []string{}
	}
	return room.others("")
}

// OtherMembers returns everyone in roomID except participantID.
func (s *Store) OtherMembers(roomID, participantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(roomID, s.now())
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.others(participantID), nil
}

// Touch refreshes the last-seen time of a session. A session that is past
// its TTL but not yet swept is treated as gone.
func (s *Store) Touch(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	now := s.now()
	if s.expired(sess.LastSeen, now) {
		if room, ok := s.rooms[sess.RoomID]; ok {
			if member, ok := room.Members[sess.ParticipantID]; ok {
				s.removeLocked(room, member)
			}
		}
		delete(s.sessions, sessionID)
		return ErrSessionNotFound
	}

	s.refreshLocked(sess, now)
	return nil
}

// TouchMember refreshes last-seen for a participant through any API action
// other than ping. Unknown members are ignored.
func (s *Store) TouchMember(roomID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	member, ok := room.Members[participantID]
	if !ok {
		return
	}
	if sess, ok := s.sessions[member.SessionID]; ok && !s.expired(sess.LastSeen, s.now()) {
		s.refreshLocked(sess, s.now())
	}
}

// Sweep removes every expired session along with its member and, when the
// room ends up empty, the room. It returns how many sessions were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if !s.expired(sess.LastSeen, now) {
			continue
		}
		if room, ok := s.rooms[sess.RoomID]; ok {
			if member, ok := room.Members[sess.ParticipantID]; ok && member.SessionID == id {
				s.removeLocked(room, member)
			}
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// Run sweeps on every interval tick until ctx is cancelled. A panicking
// sweep is logged and the loop carries on.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("presence sweep started", "interval", interval, "ttl", s.ttl)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("presence sweep stopped")
			return nil
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

func (s *Store) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("presence sweep failed", "panic", r)
		}
	}()

	if n := s.Sweep(); n > 0 {
		s.logger.Info("expired sessions removed", "count", n)
	}
}

// Stats reports the number of live rooms and sessions.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Rooms: len(s.rooms), Sessions: len(s.sessions)}
}

func (s *Store) expired(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) > s.ttl
}

func (s *Store) refreshLocked(sess *Session, now time.Time) {
	sess.LastSeen = now
	if room, ok := s.rooms[sess.RoomID]; ok {
		if member, ok := room.Members[sess.ParticipantID]; ok {
			member.LastSeen = now
		}
	}
}

// pruneLocked removes the expired members of a single room so reads never
// report a participant whose session already lapsed.
func (s *Store) pruneLocked(roomID string, now time.Time) {
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	for _, member := range room.Members {
		sess, ok := s.sessions[member.SessionID]
		if !ok || s.expired(sess.LastSeen, now) {
			s.removeLocked(room, member)
		}
	}
}

// removeLocked drops a member, its session and, if empty, the room.
func (s *Store) removeLocked(room *Room, member *Member) {
	delete(room.Members, member.ParticipantID)
	delete(s.sessions, member.SessionID)
	if len(room.Members) == 0 {
		delete(s.rooms, room.ID)
	}
}

func (r *Room) others(exclude string) []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
