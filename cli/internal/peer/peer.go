// Package peer defines the peer-connection primitive the orchestrator drives:
// outbound and inbound calls carrying media, and side channels carrying
// messages. The pion implementation lives in pion.go; tests use fakes.
package peer

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed        = errors.New("peer network closed")
	ErrChannelClosed = errors.New("channel not open")
	ErrUnknownCall   = errors.New("call already answered or closed")
)

// LocalMedia is a capturable local stream. A nil LocalMedia means the
// participant only exchanges messages.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
}

// Stream is a remote media stream delivered on a call.
type Stream interface {
	ID() string
}

// Call is one media connection with a remote participant.
type Call interface {
	ID() string
	Remote() string

	// Answer accepts an inbound call. Outbound calls must not be answered.
	Answer(local LocalMedia) error
	Close() error

	// Handlers registered after the event already happened fire at once.
	OnStream(func(Stream))
	OnClose(func())
	OnError(func(error))
}

// ChannelState follows the browser data channel states.
type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	}
	return "unknown"
}

// ChannelOptions are the reliability options of a side channel.
type ChannelOptions struct {
	Ordered bool
}

// Channel is an ordered message pipe to one remote participant.
type Channel interface {
	Label() string
	Remote() string
	State() ChannelState
	Send(data []byte) error
	Close() error

	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func([]byte))
}

// Network places and receives calls and side channels.
type Network interface {
	LocalID() string

	// Call places an outbound call carrying local.
	Call(remote string, local LocalMedia) (Call, error)

	// OpenChannel starts negotiating a side channel with remote.
	OpenChannel(remote, label string, opts ChannelOptions) (Channel, error)

	// OnCall and OnChannel receive connections initiated by remote peers.
	OnCall(func(Call))
	OnChannel(func(Channel))

	Close() error
}
