package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Warpmeet/cli/internal/chat"
	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
	"github.com/BioHazard786/Warpmeet/cli/internal/transport"
)

type stateLog struct {
	mu     sync.Mutex
	events []string
}

func (s *stateLog) record(remote string, state LinkState) {
	s.mu.Lock()
	s.events = append(s.events, remote+":"+state.String())
	s.mu.Unlock()
}

func (s *stateLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type node struct {
	net   *fakeNet
	orch  *Orchestrator
	sink  *fakeSink
	state *stateLog
}

func newNode(hub *fakeHub, id string, media peer.LocalMedia) *node {
	n := &node{net: hub.network(id), sink: newSink(), state: &stateLog{}}
	n.orch = New(n.net, Options{Media: media, Sink: n.sink})
	n.orch.OnLinkStateChange(n.state.record)
	return n
}

func TestIsInitiator(t *testing.T) {
	assert.True(t, IsInitiator("bob", "alice"))
	assert.False(t, IsInitiator("alice", "bob"))

	ids := []string{"alice", "bob", "carol", "u1", "u2", "Zed", "a"}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			assert.NotEqual(t, IsInitiator(a, b), IsInitiator(b, a), "%s/%s", a, b)
		}
	}
}

func TestMemberJoinedIsIdempotent(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})

	alice.orch.HandleMemberJoined("bob")
	alice.orch.HandleMemberJoined("bob")
	alice.orch.HandleMemberJoined("alice")
	alice.orch.HandleMemberJoined("")

	links := alice.orch.Links()
	require.Len(t, links, 1)
	assert.Equal(t, PeerLink{Remote: "bob", Role: Responder, State: Connecting, HasCall: true}, links[0])
	assert.Len(t, alice.net.outboundCalls(), 1)
	assert.Empty(t, alice.net.allChannels(), "responder never opens the side channel")
}

func TestInitiatorOpensSideChannel(t *testing.T) {
	hub := newHub(deliverNow)
	bob := newNode(hub, "bob", fakeMedia{})

	bob.orch.HandleMemberJoined("alice")
	bob.orch.HandleMemberJoined("alice")

	link, ok := bob.orch.Link("alice")
	require.True(t, ok)
	assert.Equal(t, Initiator, link.Role)
	assert.True(t, link.HasChannel)
	assert.Len(t, bob.net.allChannels(), 1)
}

func TestConnectedPairSharesOneCallAndChannel(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	// alice learns about bob from the join response; bob's poll is later.
	alice.orch.HandleMemberJoined("bob")
	bob.orch.HandleMemberJoined("alice")

	assert.Equal(t, 1, liveCalls(alice.net, bob.net))

	a, ok := alice.orch.Link("bob")
	require.True(t, ok)
	b, ok := bob.orch.Link("alice")
	require.True(t, ok)
	assert.True(t, a.HasCall)
	assert.True(t, a.HasChannel)
	assert.True(t, b.HasCall)
	assert.True(t, b.HasChannel)

	calls := alice.net.outboundCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].other.isAnswered())
}

func TestGlareRemoteInitiatorWins(t *testing.T) {
	hub := newHub(deliverHeld)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	bob.orch.HandleMemberJoined("alice")
	alice.orch.HandleMemberJoined("bob")
	hub.flush()

	assert.Equal(t, 1, liveCalls(alice.net, bob.net))
	for _, c := range alice.net.outboundCalls() {
		assert.True(t, c.isClosed(), "responder's own call is dropped")
	}

	link, ok := alice.orch.Link("bob")
	require.True(t, ok)
	assert.True(t, link.HasCall)
	assert.True(t, link.HasChannel)
	assert.Equal(t, []string{"bob:connecting"}, alice.state.all(), "superseded call does not close the link")
}

func TestGlareLocalInitiatorRejects(t *testing.T) {
	hub := newHub(deliverHeld)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	alice.orch.HandleMemberJoined("bob")
	bob.orch.HandleMemberJoined("alice")
	hub.flush()

	assert.Equal(t, 1, liveCalls(alice.net, bob.net))
	for _, c := range bob.net.outboundCalls() {
		assert.False(t, c.isClosed(), "initiator keeps its call")
	}

	a, ok := alice.orch.Link("bob")
	require.True(t, ok)
	assert.True(t, a.HasCall)
	assert.True(t, a.HasChannel)
	b, ok := bob.orch.Link("alice")
	require.True(t, ok)
	assert.True(t, b.HasCall)
	assert.True(t, b.HasChannel)
}

func TestConcurrentDiscoveryKeepsOneLink(t *testing.T) {
	for i := 0; i < 50; i++ {
		hub := newHub(deliverAsync)
		alice := newNode(hub, "alice", fakeMedia{})
		bob := newNode(hub, "bob", fakeMedia{})

		var wg sync.WaitGroup
		for j := 0; j < 3; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				alice.orch.HandleMemberJoined("bob")
			}()
			go func() {
				defer wg.Done()
				bob.orch.HandleMemberJoined("alice")
			}()
		}
		wg.Wait()
		hub.wg.Wait()

		require.Equal(t, 1, liveCalls(alice.net, bob.net), "iteration %d", i)
		require.Len(t, alice.orch.Links(), 1)
		require.Len(t, bob.orch.Links(), 1)

		var open int
		for _, ch := range bob.net.allChannels() {
			if !ch.isClosed() {
				open++
			}
		}
		require.Equal(t, 1, open, "iteration %d", i)
		require.Empty(t, alice.net.allChannels(), "alice only receives channels")
	}
}

func TestStreamEstablishesLink(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	var streams []string
	alice.orch.OnRemoteStream(func(remote string, s peer.Stream) {
		streams = append(streams, remote+":"+s.ID())
	})

	alice.orch.HandleMemberJoined("bob")
	bob.orch.HandleMemberJoined("alice")

	out := alice.net.outboundCalls()[0]
	out.deliverStream(fakeStream("bob-stream"))

	link, _ := alice.orch.Link("bob")
	assert.Equal(t, Established, link.State)
	assert.Equal(t, []string{"bob:bob-stream"}, streams)
	assert.Equal(t, []string{"bob:connecting", "bob:established"}, alice.state.all())
}

func TestCallCloseReleasesLink(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	alice.orch.HandleMemberJoined("bob")
	ch := bob.net.allChannels()[0]
	ch.open()
	require.True(t, alice.sink.isAttached("bob"))

	alice.net.outboundCalls()[0].Close()

	_, ok := alice.orch.Link("bob")
	assert.False(t, ok)
	_, ok = bob.orch.Link("alice")
	assert.False(t, ok)
	assert.True(t, ch.isClosed(), "side channel closed with its link")
	assert.False(t, alice.sink.isAttached("bob"))

	// A later discovery re-establishes.
	alice.orch.HandleMemberJoined("bob")
	_, ok = alice.orch.Link("bob")
	assert.True(t, ok)
	assert.Equal(t, 1, liveCalls(alice.net, bob.net))
}

func TestCallErrorIsConfinedToItsLink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hub := newHub(deliverNow)
	net := hub.network("alice")
	orch := New(net, Options{Media: fakeMedia{}, Logger: logger})

	orch.HandleMemberJoined("bob")
	orch.HandleMemberJoined("carol")
	require.Len(t, orch.Links(), 2)

	net.outboundCalls()[0].fail(errors.New("ice failed"))

	links := orch.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "carol", links[0].Remote)
	assert.Contains(t, buf.String(), ErrPeerLink.Error())
	assert.Contains(t, buf.String(), "ice failed")
}

func TestSupersededCallbacksAreIgnored(t *testing.T) {
	hub := newHub(deliverHeld)
	alice := newNode(hub, "alice", fakeMedia{})
	newNode(hub, "bob", fakeMedia{}).orch.HandleMemberJoined("alice")

	alice.orch.HandleMemberJoined("bob")
	hub.flush()

	old := alice.net.outboundCalls()[0]
	require.True(t, old.isClosed())

	// Late events from the dropped call change nothing.
	old.fail(errors.New("late"))
	old.deliverStream(fakeStream("stale"))

	link, ok := alice.orch.Link("bob")
	require.True(t, ok)
	assert.Equal(t, Connecting, link.State)
}

func TestMemberLeft(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	alice.orch.HandleMemberLeft("nobody")

	alice.orch.HandleMemberJoined("bob")
	ch := bob.net.allChannels()[0]
	ch.open()

	alice.orch.HandleMemberLeft("bob")
	alice.orch.HandleMemberLeft("bob")

	_, ok := alice.orch.Link("bob")
	assert.False(t, ok)
	assert.Equal(t, 0, liveCalls(alice.net, bob.net))
	assert.True(t, ch.isClosed())
	assert.False(t, alice.sink.isAttached("bob"))
	assert.Contains(t, alice.sink.detached, "bob")
	assert.Equal(t, []string{"bob:connecting", "bob:closed"}, alice.state.all())
}

func TestSignalingOnlyMode(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", nil)
	bob := newNode(hub, "bob", nil)

	alice.orch.HandleMemberJoined("bob")
	bob.orch.HandleMemberJoined("alice")

	assert.Empty(t, alice.net.outboundCalls())
	assert.Empty(t, bob.net.outboundCalls())

	channels := bob.net.allChannels()
	require.Len(t, channels, 1)
	channels[0].open()

	a, _ := alice.orch.Link("bob")
	b, _ := bob.orch.Link("alice")
	assert.Equal(t, Established, a.State)
	assert.Equal(t, Established, b.State)
	assert.True(t, alice.sink.isAttached("bob"))
	assert.True(t, bob.sink.isAttached("alice"))

	require.NoError(t, channels[0].Send([]byte("hi")))
	assert.Equal(t, []string{"bob:hi"}, alice.sink.received)

	// The channel is the whole link.
	channels[0].Close()
	_, ok := alice.orch.Link("bob")
	assert.False(t, ok)
	_, ok = bob.orch.Link("alice")
	assert.False(t, ok)
}

func TestChannelReopensWhileCallLives(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bob := newNode(hub, "bob", fakeMedia{})

	bob.orch.HandleMemberJoined("alice")
	first := bob.net.allChannels()[0]
	first.Close()

	channels := bob.net.allChannels()
	require.Len(t, channels, 2)
	assert.False(t, channels[1].isClosed())

	link, _ := alice.orch.Link("bob")
	assert.True(t, link.HasChannel)
}

func TestOpenChannelFailureKeepsLink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	hub := newHub(deliverNow)
	net := hub.network("bob")
	net.chanErr = errors.New("no relay")
	orch := New(net, Options{Media: fakeMedia{}, Logger: logger})

	orch.HandleMemberJoined("alice")

	link, ok := orch.Link("alice")
	require.True(t, ok)
	assert.True(t, link.HasCall)
	assert.False(t, link.HasChannel)
	assert.Contains(t, buf.String(), "no relay")
}

func TestCallFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	hub := newHub(deliverNow)
	net := hub.network("alice")
	net.callErr = errors.New("closed network")
	orch := New(net, Options{Media: fakeMedia{}, Logger: logger})

	orch.HandleMemberJoined("bob")
	assert.Contains(t, buf.String(), "closed network")
}

func TestNewerInboundChannelReplacesOlder(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	bobNet := hub.network("bob")

	first, err := bobNet.OpenChannel("alice", "chat", peer.ChannelOptions{})
	require.NoError(t, err)
	second, err := bobNet.OpenChannel("alice", "chat", peer.ChannelOptions{})
	require.NoError(t, err)

	assert.True(t, first.(*fakeChannel).isClosed())
	assert.False(t, second.(*fakeChannel).isClosed())

	link, ok := alice.orch.Link("bob")
	require.True(t, ok)
	assert.True(t, link.HasChannel)

	second.(*fakeChannel).open()
	assert.True(t, alice.sink.isAttached("bob"))
}

func TestClose(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	newNode(hub, "bob", fakeMedia{})
	newNode(hub, "carol", fakeMedia{})

	alice.orch.HandleMemberJoined("bob")
	alice.orch.HandleMemberJoined("carol")

	alice.orch.Close()
	alice.orch.Close()

	assert.Empty(t, alice.orch.Links())
	assert.Equal(t, 0, liveCalls(alice.net))

	alice.orch.HandleMemberJoined("bob")
	assert.Empty(t, alice.orch.Links())

	// Inbound connections after Close are refused.
	dave := hub.network("dave")
	call, err := dave.Call("alice", nil)
	require.NoError(t, err)
	assert.True(t, call.(*fakeCall).isClosed())
}

// fakeSource is a minimal EventSource.
type fakeSource struct {
	mu       sync.Mutex
	handlers map[transport.Kind][]transport.Handler
	offs     int
}

func (s *fakeSource) On(kind transport.Kind, fn transport.Handler) transport.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[transport.Kind][]transport.Handler)
	}
	s.handlers[kind] = append(s.handlers[kind], fn)
	return transport.Subscription{}
}

func (s *fakeSource) Off(transport.Subscription) {
	s.mu.Lock()
	s.offs++
	s.mu.Unlock()
}

func (s *fakeSource) fire(ev transport.Event) {
	s.mu.Lock()
	fns := s.handlers[ev.Kind()]
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func TestBind(t *testing.T) {
	hub := newHub(deliverNow)
	alice := newNode(hub, "alice", fakeMedia{})
	src := &fakeSource{}

	unbind := alice.orch.Bind(src)

	src.fire(transport.MemberJoined{ID: "bob"})
	src.fire(transport.MemberJoined{ID: "carol"})
	assert.Len(t, alice.orch.Links(), 2)

	src.fire(transport.MemberLeft{ID: "bob"})
	links := alice.orch.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "carol", links[0].Remote)

	src.fire(transport.Disconnected{})
	assert.Empty(t, alice.orch.Links())

	unbind()
	assert.Equal(t, 3, src.offs)
}

func TestStateStrings(t *testing.T) {
	for state, want := range map[LinkState]string{
		Connecting:   "connecting",
		Established:  "established",
		Closed:       "closed",
		LinkState(7): "unknown",
	} {
		assert.Equal(t, want, state.String(), fmt.Sprint(int(state)))
	}
	assert.Equal(t, "initiator", Initiator.String())
	assert.Equal(t, "responder", Responder.String())
}

func TestChannelOpenAnnouncesAfterStream(t *testing.T) {
	hub := newHub(deliverNow)

	type side struct {
		net  *fakeNet
		orch *Orchestrator
		chat *chat.Manager
	}
	join := func(id string, st chat.MediaState) side {
		s := side{net: hub.network(id), chat: chat.NewManager(id, chat.Options{})}
		s.orch = New(s.net, Options{Media: fakeMedia{}, Sink: s.chat})
		s.orch.OnChannelOpen(func(remote string) {
			assert.NoError(t, s.chat.SendMediaState(remote, st))
		})
		return s
	}
	alice := join("alice", chat.MediaState{Video: true})
	bob := join("bob", chat.MediaState{Audio: true})

	alice.orch.HandleMemberJoined("bob")
	bob.orch.HandleMemberJoined("alice")

	out := alice.net.outboundCalls()[0]
	out.deliverStream(fakeStream("bob-stream"))
	out.other.deliverStream(fakeStream("alice-stream"))

	link, _ := alice.orch.Link("bob")
	require.Equal(t, Established, link.State)
	link, _ = bob.orch.Link("alice")
	require.Equal(t, Established, link.State)
	assert.Empty(t, alice.chat.MediaStates())
	assert.Empty(t, bob.chat.MediaStates())

	bob.net.allChannels()[0].open()

	assert.Equal(t, map[string]chat.MediaState{"bob": {Audio: true}}, alice.chat.MediaStates())
	assert.Equal(t, map[string]chat.MediaState{"alice": {Video: true}}, bob.chat.MediaStates())
}
