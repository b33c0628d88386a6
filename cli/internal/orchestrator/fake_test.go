package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
)

// fakeHub connects fake networks in memory. Deliveries of inbound calls and
// channels are either run at once, held until flush, or run on their own
// goroutine.
type fakeHub struct {
	mu     sync.Mutex
	nets   map[string]*fakeNet
	mode   deliveryMode
	held   []func()
	nextID int
	wg     sync.WaitGroup
}

type deliveryMode int

const (
	deliverNow deliveryMode = iota
	deliverHeld
	deliverAsync
)

func newHub(mode deliveryMode) *fakeHub {
	return &fakeHub{nets: make(map[string]*fakeNet), mode: mode}
}

func (h *fakeHub) network(id string) *fakeNet {
	n := &fakeNet{hub: h, id: id}
	h.mu.Lock()
	h.nets[id] = n
	h.mu.Unlock()
	return n
}

func (h *fakeHub) deliver(fn func()) {
	h.mu.Lock()
	switch h.mode {
	case deliverHeld:
		h.held = append(h.held, fn)
		h.mu.Unlock()
	case deliverAsync:
		h.wg.Add(1)
		h.mu.Unlock()
		go func() {
			defer h.wg.Done()
			fn()
		}()
	default:
		h.mu.Unlock()
		fn()
	}
}

// flush runs held deliveries, including ones queued while flushing.
func (h *fakeHub) flush() {
	for {
		h.mu.Lock()
		if len(h.held) == 0 {
			h.mu.Unlock()
			return
		}
		fn := h.held[0]
		h.held = h.held[1:]
		h.mu.Unlock()
		fn()
	}
}

func (h *fakeHub) id() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return fmt.Sprintf("c%d", h.nextID)
}

type fakeNet struct {
	hub *fakeHub
	id  string

	mu        sync.Mutex
	onCall    func(peer.Call)
	onChannel func(peer.Channel)
	callErr   error
	chanErr   error
	calls     []*fakeCall
	channels  []*fakeChannel
	closed    bool
}

func (n *fakeNet) LocalID() string { return n.id }

func (n *fakeNet) OnCall(fn func(peer.Call)) {
	n.mu.Lock()
	n.onCall = fn
	n.mu.Unlock()
}

func (n *fakeNet) OnChannel(fn func(peer.Channel)) {
	n.mu.Lock()
	n.onChannel = fn
	n.mu.Unlock()
}

func (n *fakeNet) Call(remote string, _ peer.LocalMedia) (peer.Call, error) {
	n.mu.Lock()
	if n.callErr != nil {
		err := n.callErr
		n.mu.Unlock()
		return nil, err
	}
	n.mu.Unlock()

	id := n.hub.id()
	out := &fakeCall{id: id, remote: remote, outbound: true}
	in := &fakeCall{id: id, remote: n.id}
	out.other, in.other = in, out

	n.mu.Lock()
	n.calls = append(n.calls, out)
	n.mu.Unlock()

	if target := n.hub.lookup(remote); target != nil {
		n.hub.deliver(func() {
			target.mu.Lock()
			target.calls = append(target.calls, in)
			fn := target.onCall
			target.mu.Unlock()
			if fn != nil {
				fn(in)
			}
		})
	}
	return out, nil
}

func (n *fakeNet) OpenChannel(remote, label string, _ peer.ChannelOptions) (peer.Channel, error) {
	n.mu.Lock()
	if n.chanErr != nil {
		err := n.chanErr
		n.mu.Unlock()
		return nil, err
	}
	n.mu.Unlock()

	out := &fakeChannel{label: label, remote: remote}
	in := &fakeChannel{label: label, remote: n.id}
	out.other, in.other = in, out

	n.mu.Lock()
	n.channels = append(n.channels, out)
	n.mu.Unlock()

	if target := n.hub.lookup(remote); target != nil {
		n.hub.deliver(func() {
			target.mu.Lock()
			fn := target.onChannel
			target.mu.Unlock()
			if fn != nil {
				fn(in)
			}
		})
	}
	return out, nil
}

func (n *fakeNet) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *fakeNet) outboundCalls() []*fakeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*fakeCall
	for _, c := range n.calls {
		if c.outbound {
			out = append(out, c)
		}
	}
	return out
}

func (n *fakeNet) allChannels() []*fakeChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeChannel(nil), n.channels...)
}

func (h *fakeHub) lookup(id string) *fakeNet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nets[id]
}

// liveCalls counts outbound calls that are not closed.
func liveCalls(nets ...*fakeNet) int {
	var live int
	for _, n := range nets {
		for _, c := range n.outboundCalls() {
			if !c.isClosed() {
				live++
			}
		}
	}
	return live
}

type fakeStream string

func (s fakeStream) ID() string { return string(s) }

// events mirrors the replay behavior of the pion handles: a handler added
// after the event fires at once.
type events struct {
	mu       sync.Mutex
	closed   bool
	err      error
	stream   peer.Stream
	onClose  []func()
	onError  []func(error)
	onStream []func(peer.Stream)
}

type fakeCall struct {
	id       string
	remote   string
	outbound bool
	other    *fakeCall

	events
	answered  bool
	answerErr error
}

func (c *fakeCall) ID() string     { return c.id }
func (c *fakeCall) Remote() string { return c.remote }

func (c *fakeCall) Answer(peer.LocalMedia) error {
	if c.outbound {
		return errors.New("outbound")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	if c.answered || c.closed {
		return peer.ErrUnknownCall
	}
	c.answered = true
	return nil
}

func (c *fakeCall) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeCall) isAnswered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *fakeCall) Close() error {
	c.closeLocal()
	c.other.closeLocal()
	return nil
}

func (c *fakeCall) closeLocal() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fail reports err on this side only.
func (c *fakeCall) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	fns := c.onError
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// deliverStream fires the stream on this side.
func (c *fakeCall) deliverStream(s peer.Stream) {
	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return
	}
	c.stream = s
	fns := c.onStream
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *fakeCall) OnStream(fn func(peer.Stream)) {
	c.mu.Lock()
	if s := c.stream; s != nil {
		c.mu.Unlock()
		fn(s)
		return
	}
	c.onStream = append(c.onStream, fn)
	c.mu.Unlock()
}

func (c *fakeCall) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *fakeCall) OnError(fn func(error)) {
	c.mu.Lock()
	if err := c.err; err != nil {
		c.mu.Unlock()
		fn(err)
		return
	}
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

type fakeChannel struct {
	label  string
	remote string
	other  *fakeChannel

	mu        sync.Mutex
	state     peer.ChannelState
	sendErr   error
	sent      [][]byte
	onOpen    []func()
	onClose   []func()
	onError   []func(error)
	onMessage func([]byte)
}

func (ch *fakeChannel) Label() string  { return ch.label }
func (ch *fakeChannel) Remote() string { return ch.remote }

func (ch *fakeChannel) State() peer.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) Send(data []byte) error {
	ch.mu.Lock()
	if ch.state != peer.ChannelOpen {
		ch.mu.Unlock()
		return peer.ErrChannelClosed
	}
	if ch.sendErr != nil {
		err := ch.sendErr
		ch.mu.Unlock()
		return err
	}
	ch.sent = append(ch.sent, data)
	ch.mu.Unlock()

	if ch.other != nil {
		ch.other.receive(data)
	}
	return nil
}

func (ch *fakeChannel) receive(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// open opens both ends.
func (ch *fakeChannel) open() {
	ch.openLocal()
	if ch.other != nil {
		ch.other.openLocal()
	}
}

func (ch *fakeChannel) openLocal() {
	ch.mu.Lock()
	if ch.state != peer.ChannelConnecting {
		ch.mu.Unlock()
		return
	}
	ch.state = peer.ChannelOpen
	fns := ch.onOpen
	ch.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (ch *fakeChannel) Close() error {
	ch.closeLocal()
	if ch.other != nil {
		ch.other.closeLocal()
	}
	return nil
}

func (ch *fakeChannel) closeLocal() {
	ch.mu.Lock()
	if ch.state == peer.ChannelClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = peer.ChannelClosed
	fns := ch.onClose
	ch.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (ch *fakeChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	if ch.state == peer.ChannelOpen {
		ch.mu.Unlock()
		fn()
		return
	}
	ch.onOpen = append(ch.onOpen, fn)
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnClose(fn func()) {
	ch.mu.Lock()
	if ch.state == peer.ChannelClosed {
		ch.mu.Unlock()
		fn()
		return
	}
	ch.onClose = append(ch.onClose, fn)
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnError(fn func(error)) {
	ch.mu.Lock()
	ch.onError = append(ch.onError, fn)
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

func (ch *fakeChannel) isClosed() bool {
	return ch.State() == peer.ChannelClosed
}

// fakeMedia is a non-nil local stream.
type fakeMedia struct{}

func (fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

// fakeSink records channel lifecycle calls.
type fakeSink struct {
	mu       sync.Mutex
	attached map[string]peer.Channel
	detached []string
	received []string
}

func newSink() *fakeSink {
	return &fakeSink{attached: make(map[string]peer.Channel)}
}

func (s *fakeSink) Attach(remote string, ch peer.Channel) {
	s.mu.Lock()
	s.attached[remote] = ch
	s.mu.Unlock()
}

func (s *fakeSink) Detach(remote string) {
	s.mu.Lock()
	delete(s.attached, remote)
	s.detached = append(s.detached, remote)
	s.mu.Unlock()
}

func (s *fakeSink) Receive(remote string, raw []byte) {
	s.mu.Lock()
	s.received = append(s.received, remote+":"+string(raw))
	s.mu.Unlock()
}

func (s *fakeSink) isAttached(remote string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[remote]
	return ok
}
