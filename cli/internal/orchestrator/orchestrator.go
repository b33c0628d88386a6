// Package orchestrator turns presence events into peer links: one call and
// one side channel per remote participant, torn down when the participant
// leaves or the link fails.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
	"github.com/BioHazard786/Warpmeet/cli/internal/transport"
)

// ErrPeerLink marks a fault confined to one peer link.
var ErrPeerLink = errors.New("peer link fault")

// DefaultChannelLabel is the label of the chat side channel.
const DefaultChannelLabel = "chat"

type Role int

const (
	Responder Role = iota
	Initiator
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

type LinkState int

const (
	Connecting LinkState = iota
	Established
	Closed
)

func (s LinkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// IsInitiator reports whether local initiates the pair (local, remote). Both
// sides compute the same answer: the greater id initiates.
func IsInitiator(local, remote string) bool {
	return local > remote
}

// ChannelSink consumes side channels once they open. chat.Manager
// implements it.
type ChannelSink interface {
	Attach(remote string, ch peer.Channel)
	Detach(remote string)
	Receive(remote string, raw []byte)
}

// EventSource is the subscription half of a transport.
type EventSource interface {
	On(kind transport.Kind, fn transport.Handler) transport.Subscription
	Off(sub transport.Subscription)
}

// PeerLink is a snapshot of the link with one remote participant.
type PeerLink struct {
	Remote     string
	Role       Role
	State      LinkState
	HasCall    bool
	HasChannel bool
}

// link is the live record. Callbacks compare their link pointer and handle
// against the map entry, so a superseded call or channel is ignored.
type link struct {
	remote  string
	role    Role
	state   LinkState
	call    peer.Call
	placing bool
	channel peer.Channel
}

// Options configures an Orchestrator.
type Options struct {
	// Media is offered on every call. Nil means signaling-only mode: no
	// calls are placed and links are established by their side channel.
	Media        peer.LocalMedia
	Sink         ChannelSink
	ChannelLabel string
	Logger       *slog.Logger
}

// Orchestrator owns every PeerLink of one participant.
type Orchestrator struct {
	net    peer.Network
	local  string
	media  peer.LocalMedia
	sink   ChannelSink
	label  string
	logger *slog.Logger

	mu      sync.Mutex
	links   map[string]*link
	pending map[string]bool
	closed  bool

	obsMu     sync.Mutex
	streamObs []func(remote string, s peer.Stream)
	stateObs  []func(remote string, state LinkState)
	openObs   []func(remote string)
}

// New creates an orchestrator and registers it for inbound calls and
// channels on net.
func New(net peer.Network, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = DefaultChannelLabel
	}

	o := &Orchestrator{
		net:     net,
		local:   net.LocalID(),
		media:   opts.Media,
		sink:    opts.Sink,
		label:   opts.ChannelLabel,
		logger:  opts.Logger.With("component", "orchestrator"),
		links:   make(map[string]*link),
		pending: make(map[string]bool),
	}
	net.OnCall(o.handleInboundCall)
	net.OnChannel(o.handleInboundChannel)
	return o
}

// Bind drives the orchestrator from a transport's presence events. The
// returned function removes the subscriptions.
func (o *Orchestrator) Bind(src EventSource) func() {
	subs := []transport.Subscription{
		src.On(transport.KindMemberJoined, func(ev transport.Event) {
			o.HandleMemberJoined(ev.(transport.MemberJoined).ID)
		}),
		src.On(transport.KindMemberLeft, func(ev transport.Event) {
			o.HandleMemberLeft(ev.(transport.MemberLeft).ID)
		}),
		src.On(transport.KindDisconnected, func(transport.Event) {
			o.Close()
		}),
	}
	return func() {
		for _, s := range subs {
			src.Off(s)
		}
	}
}

// OnRemoteStream registers fn for every stream that establishes a link.
func (o *Orchestrator) OnRemoteStream(fn func(remote string, s peer.Stream)) {
	o.obsMu.Lock()
	o.streamObs = append(o.streamObs, fn)
	o.obsMu.Unlock()
}

// OnLinkStateChange registers fn for link state transitions.
func (o *Orchestrator) OnLinkStateChange(fn func(remote string, state LinkState)) {
	o.obsMu.Lock()
	o.stateObs = append(o.stateObs, fn)
	o.obsMu.Unlock()
}

// OnChannelOpen registers fn for every side channel that opens and is
// handed to the sink. It runs after the sink's Attach.
func (o *Orchestrator) OnChannelOpen(fn func(remote string)) {
	o.obsMu.Lock()
	o.openObs = append(o.openObs, fn)
	o.obsMu.Unlock()
}

// HandleMemberJoined creates the link to remote unless one exists.
func (o *Orchestrator) HandleMemberJoined(remote string) {
	if remote == "" || remote == o.local {
		return
	}

	o.mu.Lock()
	if o.closed || o.links[remote] != nil {
		o.mu.Unlock()
		return
	}
	l := o.newLinkLocked(remote)
	if o.media != nil {
		l.placing = true
	}
	o.mu.Unlock()

	o.notifyState(remote, Connecting)

	if o.media != nil {
		o.placeCall(l)
	}
	o.ensureChannel(l)
}

// HandleMemberLeft closes everything held for remote. It is a no-op when no
// link exists.
func (o *Orchestrator) HandleMemberLeft(remote string) {
	o.mu.Lock()
	l := o.links[remote]
	if l == nil {
		delete(o.pending, o.pairKey(remote))
		o.mu.Unlock()
		return
	}
	call, ch := o.releaseLocked(l)
	o.mu.Unlock()

	o.teardown(remote, call, ch)
}

// Close tears down every link. Later events are ignored.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true

	type held struct {
		remote string
		call   peer.Call
		ch     peer.Channel
	}
	var all []held
	for _, l := range o.links {
		call, ch := o.releaseLocked(l)
		all = append(all, held{l.remote, call, ch})
	}
	o.mu.Unlock()

	for _, h := range all {
		o.teardown(h.remote, h.call, h.ch)
	}
}

// Link returns a snapshot of the link with remote.
func (o *Orchestrator) Link(remote string) (PeerLink, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.links[remote]
	if !ok {
		return PeerLink{}, false
	}
	return l.snapshot(), true
}

// Links returns snapshots of every link, sorted by remote id.
func (o *Orchestrator) Links() []PeerLink {
	o.mu.Lock()
	out := make([]PeerLink, 0, len(o.links))
	for _, l := range o.links {
		out = append(out, l.snapshot())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (l *link) snapshot() PeerLink {
	return PeerLink{
		Remote:     l.remote,
		Role:       l.role,
		State:      l.state,
		HasCall:    l.call != nil,
		HasChannel: l.channel != nil,
	}
}

func (o *Orchestrator) newLinkLocked(remote string) *link {
	role := Responder
	if IsInitiator(o.local, remote) {
		role = Initiator
	}
	l := &link{remote: remote, role: role, state: Connecting}
	o.links[remote] = l
	return l
}

// pairKey is the ordered channel-creation key.
func (o *Orchestrator) pairKey(remote string) string {
	return o.local + "->" + remote
}

func (o *Orchestrator) current(l *link) bool {
	return !o.closed && o.links[l.remote] == l
}

// releaseLocked removes l and returns the handles to close outside the lock.
func (o *Orchestrator) releaseLocked(l *link) (peer.Call, peer.Channel) {
	if o.links[l.remote] == l {
		delete(o.links, l.remote)
	}
	delete(o.pending, o.pairKey(l.remote))

	call, ch := l.call, l.channel
	l.call, l.channel, l.placing = nil, nil, false
	l.state = Closed
	if ch != nil && o.sink != nil {
		o.sink.Detach(l.remote)
	}
	return call, ch
}

func (o *Orchestrator) teardown(remote string, call peer.Call, ch peer.Channel) {
	if call != nil {
		call.Close()
	}
	if ch != nil {
		ch.Close()
	}
	o.notifyState(remote, Closed)
}

func (o *Orchestrator) fault(remote, op string, err error) {
	o.logger.Warn("peer link fault", "remote", remote, "error", fmt.Errorf("%w: %s: %v", ErrPeerLink, op, err))
}

func (o *Orchestrator) placeCall(l *link) {
	call, err := o.net.Call(l.remote, o.media)

	o.mu.Lock()
	l.placing = false
	if err != nil {
		o.mu.Unlock()
		o.fault(l.remote, "call", err)
		return
	}
	// Released meanwhile, or an inbound call from the initiator won.
	if !o.current(l) || l.call != nil {
		o.mu.Unlock()
		call.Close()
		return
	}
	l.call = call
	o.mu.Unlock()

	o.watchCall(l, call)
}

func (o *Orchestrator) handleInboundCall(call peer.Call) {
	remote := call.Remote()

	o.mu.Lock()
	if o.closed || remote == o.local {
		o.mu.Unlock()
		call.Close()
		return
	}

	var superseded peer.Call
	l, exists := o.links[remote]
	switch {
	case !exists:
		l = o.newLinkLocked(remote)
		l.call = call
	case l.call == nil && !l.placing:
		l.call = call
	case !IsInitiator(o.local, remote):
		// Glare: the remote initiates, so its call replaces ours.
		superseded = l.call
		l.call = call
		l.state = Connecting
	default:
		o.mu.Unlock()
		o.logger.Debug("rejecting inbound call, local side initiates", "remote", remote)
		call.Close()
		return
	}
	o.mu.Unlock()

	if !exists {
		o.notifyState(remote, Connecting)
	}
	if superseded != nil {
		superseded.Close()
	}

	o.watchCall(l, call)
	if err := call.Answer(o.media); err != nil {
		o.callEnded(l, call, err)
		return
	}
	if !exists {
		o.ensureChannel(l)
	}
}

func (o *Orchestrator) watchCall(l *link, call peer.Call) {
	call.OnStream(func(s peer.Stream) {
		o.mu.Lock()
		if !o.current(l) || l.call != call {
			o.mu.Unlock()
			return
		}
		changed := l.state != Established
		l.state = Established
		o.mu.Unlock()

		if changed {
			o.notifyState(l.remote, Established)
		}
		o.notifyStream(l.remote, s)
	})
	call.OnClose(func() { o.callEnded(l, call, nil) })
	call.OnError(func(err error) { o.callEnded(l, call, err) })
}

// callEnded releases l if call is still its current call.
func (o *Orchestrator) callEnded(l *link, call peer.Call, err error) {
	o.mu.Lock()
	if !o.current(l) || l.call != call {
		o.mu.Unlock()
		return
	}
	_, ch := o.releaseLocked(l)
	o.mu.Unlock()

	if err != nil {
		o.fault(l.remote, "call", err)
	}
	call.Close()
	o.teardown(l.remote, nil, ch)
}

// ensureChannel opens the side channel when the local side initiates and
// no channel exists or is being created for the pair.
func (o *Orchestrator) ensureChannel(l *link) {
	if !IsInitiator(o.local, l.remote) {
		return
	}
	key := o.pairKey(l.remote)

	o.mu.Lock()
	if !o.current(l) || l.channel != nil || o.pending[key] {
		o.mu.Unlock()
		return
	}
	o.pending[key] = true
	o.mu.Unlock()

	ch, err := o.net.OpenChannel(l.remote, o.label, peer.ChannelOptions{Ordered: true})
	if err != nil {
		o.mu.Lock()
		if o.current(l) {
			delete(o.pending, key)
		}
		o.mu.Unlock()
		o.fault(l.remote, "open channel", err)
		return
	}

	o.mu.Lock()
	if !o.current(l) || l.channel != nil {
		o.mu.Unlock()
		ch.Close()
		return
	}
	l.channel = ch
	o.mu.Unlock()

	o.watchChannel(l, ch)
}

func (o *Orchestrator) handleInboundChannel(ch peer.Channel) {
	remote := ch.Remote()

	o.mu.Lock()
	if o.closed || remote == o.local {
		o.mu.Unlock()
		ch.Close()
		return
	}
	l, exists := o.links[remote]
	if !exists {
		l = o.newLinkLocked(remote)
	}
	// Only the initiator opens channels, so a newer one replaces ours.
	old := l.channel
	if old != nil && o.sink != nil {
		o.sink.Detach(remote)
	}
	l.channel = ch
	o.mu.Unlock()

	if !exists {
		o.notifyState(remote, Connecting)
	}
	if old != nil {
		o.logger.Debug("side channel replaced", "remote", remote)
		old.Close()
	}
	o.watchChannel(l, ch)
}

func (o *Orchestrator) watchChannel(l *link, ch peer.Channel) {
	ch.OnMessage(func(data []byte) {
		if o.sink != nil {
			o.sink.Receive(l.remote, data)
		}
	})

	ch.OnOpen(func() {
		o.mu.Lock()
		if !o.current(l) || l.channel != ch {
			o.mu.Unlock()
			return
		}
		if o.sink != nil {
			o.sink.Attach(l.remote, ch)
		}
		// Without a call the open channel is the link.
		established := l.call == nil && !l.placing && l.state == Connecting
		if established {
			l.state = Established
		}
		o.mu.Unlock()

		if established {
			o.notifyState(l.remote, Established)
		}
		o.notifyOpen(l.remote)
	})

	ch.OnError(func(err error) {
		o.fault(l.remote, "channel", err)
		ch.Close()
	})

	ch.OnClose(func() {
		o.mu.Lock()
		if !o.current(l) || l.channel != ch {
			o.mu.Unlock()
			return
		}
		l.channel = nil
		delete(o.pending, o.pairKey(l.remote))
		if o.sink != nil {
			o.sink.Detach(l.remote)
		}

		// A link without a call lives only through its channel.
		var release bool
		if l.call == nil && !l.placing {
			o.releaseLocked(l)
			release = true
		}
		o.mu.Unlock()

		if release {
			o.notifyState(l.remote, Closed)
			return
		}
		o.ensureChannel(l)
	})
}

func (o *Orchestrator) notifyState(remote string, state LinkState) {
	o.logger.Debug("peer link state", "remote", remote, "state", state.String())

	o.obsMu.Lock()
	obs := slices.Clone(o.stateObs)
	o.obsMu.Unlock()
	for _, fn := range obs {
		fn(remote, state)
	}
}

func (o *Orchestrator) notifyOpen(remote string) {
	o.obsMu.Lock()
	obs := slices.Clone(o.openObs)
	o.obsMu.Unlock()
	for _, fn := range obs {
		fn(remote)
	}
}

func (o *Orchestrator) notifyStream(remote string, s peer.Stream) {
	o.obsMu.Lock()
	obs := slices.Clone(o.streamObs)
	o.obsMu.Unlock()
	for _, fn := range obs {
		fn(remote, s)
	}
}
