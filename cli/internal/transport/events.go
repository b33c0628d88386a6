package transport

import (
	"fmt"
	"time"
)

// Kind names an event variant. The values are the event names used on the
// wire by browser clients of the same server.
type Kind string

const (
	KindConnecting      Kind = "connecting"
	KindConnected       Kind = "connect"
	KindMemberJoined    Kind = "user-connected"
	KindMemberLeft      Kind = "user-leave"
	KindConnectError    Kind = "connect_error"
	KindReconnecting    Kind = "reconnecting"
	KindReconnected     Kind = "reconnect"
	KindReconnectFailed Kind = "reconnect_failed"
	KindDisconnected    Kind = "disconnect"
)

// Event is one of the variants below.
type Event interface {
	Kind() Kind
}

// Connecting is emitted when a join request is about to be sent.
type Connecting struct{}

// Connected is emitted after a successful join or re-join.
type Connected struct {
	SessionID string
}

// MemberJoined reports a participant that appeared in the room.
type MemberJoined struct {
	ID string
}

// MemberLeft reports a participant that is no longer in the room.
type MemberLeft struct {
	ID string
}

// ConnectError is emitted when the initial join fails.
type ConnectError struct {
	Err error
}

// Reconnecting is emitted before each backoff wait.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// Reconnected is emitted when a re-join succeeded.
type Reconnected struct {
	Attempt int
}

// ReconnectFailed is terminal: the transport gave up.
type ReconnectFailed struct {
	Attempts int
	Err      error
}

// Disconnected is always the last event a transport delivers.
type Disconnected struct{}

func (Connecting) Kind() Kind      { return KindConnecting }
func (Connected) Kind() Kind       { return KindConnected }
func (MemberJoined) Kind() Kind    { return KindMemberJoined }
func (MemberLeft) Kind() Kind      { return KindMemberLeft }
func (ConnectError) Kind() Kind    { return KindConnectError }
func (Reconnecting) Kind() Kind    { return KindReconnecting }
func (Reconnected) Kind() Kind     { return KindReconnected }
func (ReconnectFailed) Kind() Kind { return KindReconnectFailed }
func (Disconnected) Kind() Kind    { return KindDisconnected }

func (e MemberJoined) String() string { return fmt.Sprintf("%s(%s)", e.Kind(), e.ID) }
func (e MemberLeft) String() string   { return fmt.Sprintf("%s(%s)", e.Kind(), e.ID) }

// Command is something the caller asks the transport to do.
type Command interface {
	command()
}

// JoinRoom enters a room and starts presence polling.
type JoinRoom struct {
	RoomID        string
	ParticipantID string
}

// Media selects the track a Toggle refers to.
type Media string

const (
	Audio Media = "audio"
	Video Media = "video"
)

// Toggle announces a local audio or video state change.
type Toggle struct {
	Media   Media
	Enabled bool
}

func (JoinRoom) command() {}
func (Toggle) command()   {}
