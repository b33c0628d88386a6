package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// latch remembers the first value it fires with and replays it to handlers
// added afterwards.
type latch[T any] struct {
	mu    sync.Mutex
	fired bool
	val   T
	fns   []func(T)
}

func (l *latch[T]) fire(v T) {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return
	}
	l.fired = true
	l.val = v
	fns := l.fns
	l.fns = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *latch[T]) add(fn func(T)) {
	l.mu.Lock()
	if l.fired {
		v := l.val
		l.mu.Unlock()
		fn(v)
		return
	}
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

type remoteStream struct{ id string }

func (s remoteStream) ID() string { return s.id }

// pionCall is a media connection.
type pionCall struct {
	conn *pionConn

	mu       sync.Mutex
	offer    *webrtc.SessionDescription
	answered bool

	stream latch[Stream]
	closed latch[struct{}]
	failed latch[error]
}

func newPionCall(c *pionConn) *pionCall {
	call := &pionCall{conn: c}

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		call.stream.fire(remoteStream{id: track.StreamID()})

		// Playback is out of scope, but the track must be read for the
		// interceptors to keep running.
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})
	c.watch(call.failed.fire, func() { call.closed.fire(struct{}{}) })
	return call
}

func (c *pionCall) ID() string     { return c.conn.id }
func (c *pionCall) Remote() string { return c.conn.remote }

func (c *pionCall) Answer(local LocalMedia) error {
	if c.conn.outbound {
		return errors.New("outbound call cannot be answered")
	}

	c.mu.Lock()
	offer := c.offer
	if offer == nil || c.answered || c.conn.isClosed() {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	c.answered = true
	c.offer = nil
	c.mu.Unlock()

	if err := c.conn.setRemote(*offer); err != nil {
		c.conn.fail(err)
		return err
	}
	if err := addMedia(c.conn.pc, local, false); err != nil {
		c.conn.fail(err)
		return err
	}
	if err := c.conn.respond(); err != nil {
		c.conn.fail(err)
		return err
	}
	return nil
}

func (c *pionCall) Close() error {
	c.conn.close(true)
	return nil
}

func (c *pionCall) OnStream(fn func(Stream)) { c.stream.add(fn) }
func (c *pionCall) OnClose(fn func())        { c.closed.add(func(struct{}) { fn() }) }
func (c *pionCall) OnError(fn func(error))   { c.failed.add(fn) }

// pionChannel is a data channel on its own connection.
type pionChannel struct {
	conn *pionConn
	dc   *webrtc.DataChannel

	opened latch[struct{}]
	closed latch[struct{}]
	failed latch[error]

	mu        sync.Mutex
	onMessage func([]byte)
	backlog   [][]byte
}

func newPionChannel(c *pionConn, dc *webrtc.DataChannel) *pionChannel {
	ch := &pionChannel{conn: c, dc: dc}

	dc.OnOpen(func() { ch.opened.fire(struct{}{}) })
	dc.OnClose(func() {
		ch.closed.fire(struct{}{})
		c.close(false)
	})
	dc.OnError(ch.failed.fire)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.mu.Lock()
		fn := ch.onMessage
		if fn == nil {
			ch.backlog = append(ch.backlog, msg.Data)
		}
		ch.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	c.watch(ch.failed.fire, func() { ch.closed.fire(struct{}{}) })
	return ch
}

func (ch *pionChannel) Label() string  { return ch.dc.Label() }
func (ch *pionChannel) Remote() string { return ch.conn.remote }

func (ch *pionChannel) State() ChannelState {
	if ch.conn.isClosed() {
		return ChannelClosed
	}
	switch ch.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return ChannelOpen
	case webrtc.DataChannelStateClosing:
		return ChannelClosing
	case webrtc.DataChannelStateClosed:
		return ChannelClosed
	}
	return ChannelConnecting
}

func (ch *pionChannel) Send(data []byte) error {
	if ch.State() != ChannelOpen {
		return ErrChannelClosed
	}
	return ch.dc.Send(data)
}

func (ch *pionChannel) Close() error {
	err := ch.dc.Close()
	ch.conn.close(true)
	return err
}

func (ch *pionChannel) OnOpen(fn func())       { ch.opened.add(func(struct{}) { fn() }) }
func (ch *pionChannel) OnClose(fn func())      { ch.closed.add(func(struct{}) { fn() }) }
func (ch *pionChannel) OnError(fn func(error)) { ch.failed.add(fn) }

// OnMessage sets the message handler and flushes messages that arrived
// before it was set.
func (ch *pionChannel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	backlog := ch.backlog
	ch.backlog = nil
	ch.mu.Unlock()

	for _, data := range backlog {
		fn(data)
	}
}
