package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpmeet/cli/internal/config"
	"github.com/BioHazard786/Warpmeet/cli/internal/signaling"
)

var ErrConnectionFailed = errors.New("peer connection failed")

// Signaler delivers signaling payloads to a remote participant.
// *signaling.Client implements it.
type Signaler interface {
	SendSignal(to string, payload signaling.SignalPayload) error
}

// Options configures a PionNetwork. ForceRelay restricts ICE to TURN
// candidates.
type Options struct {
	LocalID       string
	ICEServers    []webrtc.ICEServer
	ForceRelay    bool
	Signaler      Signaler
	LoggerFactory logging.LoggerFactory
	Logger        *slog.Logger
}

// ICEServers builds the ICE server list from the CLI configuration.
func ICEServers(cfg *config.Config) []webrtc.ICEServer {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	if turnServers := cfg.GetTURNServers(); turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}
	return iceServers
}

// PionNetwork implements Network with pion/webrtc. Every call and every side
// channel is its own peer connection, negotiated over the relay and
// identified by a connection id.
type PionNetwork struct {
	localID  string
	api      *webrtc.API
	rtc      webrtc.Configuration
	signaler Signaler
	logger   *slog.Logger

	mu        sync.Mutex
	conns     map[string]*pionConn
	onCall    func(Call)
	onChannel func(Channel)
	closed    bool
}

var _ Network = (*PionNetwork)(nil)

// NewPionNetwork builds the pion API (codecs, interceptors, logging) once
// for all connections.
func NewPionNetwork(opts Options) (*PionNetwork, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	// Create interceptor registry with PLI support
	i := &interceptor.Registry{}
	intervalPliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	i.Add(intervalPliFactory)
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}

	rtc := webrtc.Configuration{ICEServers: opts.ICEServers}
	if opts.ForceRelay {
		rtc.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return &PionNetwork{
		localID:  opts.LocalID,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(se)),
		rtc:      rtc,
		signaler: opts.Signaler,
		logger:   opts.Logger,
		conns:    make(map[string]*pionConn),
	}, nil
}

func (n *PionNetwork) LocalID() string { return n.localID }

func (n *PionNetwork) OnCall(fn func(Call)) {
	n.mu.Lock()
	n.onCall = fn
	n.mu.Unlock()
}

func (n *PionNetwork) OnChannel(fn func(Channel)) {
	n.mu.Lock()
	n.onChannel = fn
	n.mu.Unlock()
}

// Call places an outbound call. Missing local tracks become receive-only
// transceivers so the remote side can still send.
func (n *PionNetwork) Call(remote string, local LocalMedia) (Call, error) {
	c, err := n.newConn(uuid.NewString(), remote, signaling.PurposeMedia, true)
	if err != nil {
		return nil, err
	}
	call := newPionCall(c)

	if err := addMedia(c.pc, local, true); err != nil {
		c.close(false)
		return nil, err
	}
	if err := c.offer(signaling.SignalPayload{}); err != nil {
		c.close(false)
		return nil, err
	}
	return call, nil
}

// OpenChannel negotiates a dedicated connection for one data channel.
func (n *PionNetwork) OpenChannel(remote, label string, opts ChannelOptions) (Channel, error) {
	c, err := n.newConn(uuid.NewString(), remote, signaling.PurposeData, true)
	if err != nil {
		return nil, err
	}

	ordered := opts.Ordered
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		c.close(false)
		return nil, err
	}
	ch := newPionChannel(c, dc)

	if err := c.offer(signaling.SignalPayload{Label: label, Ordered: ordered}); err != nil {
		c.close(false)
		return nil, err
	}
	return ch, nil
}

// Serve applies inbound signals until ctx ends or signals is closed.
func (n *PionNetwork) Serve(ctx context.Context, signals <-chan *signaling.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			n.HandleSignal(sig)
		}
	}
}

// HandleSignal applies one signal from the relay.
func (n *PionNetwork) HandleSignal(sig *signaling.Signal) {
	p := sig.Payload

	n.mu.Lock()
	c := n.conns[p.ConnectionID]
	n.mu.Unlock()

	if c != nil && c.remote != sig.From {
		n.logger.Warn("signal from wrong peer", "connection_id", p.ConnectionID, "from", sig.From)
		return
	}

	switch p.Kind {
	case signaling.SignalOffer:
		if c != nil {
			n.logger.Debug("ignoring renegotiation offer", "connection_id", p.ConnectionID)
			return
		}
		n.acceptOffer(sig.From, p)

	case signaling.SignalAnswer:
		if c == nil {
			return
		}
		if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
			c.fail(fmt.Errorf("apply answer: %w", err))
		}

	case signaling.SignalCandidate:
		if c == nil {
			return
		}
		var ice webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &ice); err != nil {
			n.logger.Debug("dropping malformed candidate", "connection_id", p.ConnectionID, "error", err)
			return
		}
		c.addCandidate(ice)

	case signaling.SignalBye:
		if c != nil {
			c.close(false)
		}
	}
}

func (n *PionNetwork) acceptOffer(remote string, p signaling.SignalPayload) {
	c, err := n.newConn(p.ConnectionID, remote, p.Purpose, false)
	if err != nil {
		n.logger.Warn("failed to accept offer", "from", remote, "error", err)
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	switch p.Purpose {
	case signaling.PurposeMedia:
		call := newPionCall(c)
		call.offer = &offer

		n.mu.Lock()
		onCall := n.onCall
		n.mu.Unlock()
		if onCall == nil {
			c.close(true)
			return
		}
		onCall(call)

	case signaling.PurposeData:
		c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			ch := newPionChannel(c, dc)
			n.mu.Lock()
			onChannel := n.onChannel
			n.mu.Unlock()
			if onChannel == nil {
				ch.Close()
				return
			}
			onChannel(ch)
		})
		if err := c.answer(offer); err != nil {
			c.fail(err)
		}

	default:
		n.logger.Debug("unknown connection purpose", "purpose", p.Purpose)
		c.close(true)
	}
}

// Close tears down every connection.
func (n *PionNetwork) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	conns := make([]*pionConn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.close(true)
	}
	return nil
}

func (n *PionNetwork) newConn(id, remote, purpose string, outbound bool) (*pionConn, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.mu.Unlock()

	pc, err := n.api.NewPeerConnection(n.rtc)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &pionConn{
		id:       id,
		remote:   remote,
		purpose:  purpose,
		outbound: outbound,
		pc:       pc,
		net:      n,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		c.send(signaling.SignalPayload{Kind: signaling.SignalCandidate, Candidate: raw})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Debug("peer connection state", "remote", remote, "purpose", purpose, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.fail(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			c.close(false)
		}
	})

	n.mu.Lock()
	n.conns[id] = c
	n.mu.Unlock()
	return c, nil
}

// pionConn is one pion peer connection and its negotiation state.
type pionConn struct {
	id       string
	remote   string
	purpose  string
	outbound bool
	pc       *webrtc.PeerConnection
	net      *PionNetwork

	mu         sync.Mutex
	haveRemote bool
	pending    []webrtc.ICECandidateInit
	onFail     []func(error)
	onClose    []func()
	closed     bool
}

func (c *pionConn) send(p signaling.SignalPayload) {
	p.ConnectionID = c.id
	if p.Purpose == "" {
		p.Purpose = c.purpose
	}
	if c.net.signaler == nil {
		return
	}
	if err := c.net.signaler.SendSignal(c.remote, p); err != nil {
		c.net.logger.Debug("failed to send signal", "remote", c.remote, "kind", p.Kind, "error", err)
	}
}

// offer creates and sends an offer with trickle ICE (doesn't wait for gathering).
func (c *pionConn) offer(extra signaling.SignalPayload) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	extra.Kind = signaling.SignalOffer
	extra.SDP = c.pc.LocalDescription().SDP
	c.send(extra)
	return nil
}

func (c *pionConn) answer(offer webrtc.SessionDescription) error {
	if err := c.setRemote(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	return c.respond()
}

// respond sends the answer for an offer that is already applied.
func (c *pionConn) respond() error {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	c.send(signaling.SignalPayload{Kind: signaling.SignalAnswer, SDP: c.pc.LocalDescription().SDP})
	return nil
}

// setRemote applies desc and flushes candidates that arrived early.
func (c *pionConn) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.haveRemote = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ice := range pending {
		if err := c.pc.AddICECandidate(ice); err != nil {
			c.net.logger.Debug("failed to add ICE candidate", "remote", c.remote, "error", err)
		}
	}
	return nil
}

func (c *pionConn) addCandidate(ice webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.haveRemote {
		c.pending = append(c.pending, ice)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(ice); err != nil {
		c.net.logger.Debug("failed to add ICE candidate", "remote", c.remote, "error", err)
	}
}

func (c *pionConn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := slices.Clone(c.onFail)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
	c.close(true)
}

// close releases the connection once. notify sends a bye so the remote side
// does not wait for ICE to time out.
func (c *pionConn) close(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := slices.Clone(c.onClose)
	c.mu.Unlock()

	c.net.mu.Lock()
	if c.net.conns[c.id] == c {
		delete(c.net.conns, c.id)
	}
	c.net.mu.Unlock()

	if notify {
		c.send(signaling.SignalPayload{Kind: signaling.SignalBye})
	}
	go c.pc.Close()

	for _, fn := range fns {
		fn()
	}
}

func (c *pionConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *pionConn) watch(onFail func(error), onClose func()) {
	c.mu.Lock()
	c.onFail = append(c.onFail, onFail)
	c.onClose = append(c.onClose, onClose)
	c.mu.Unlock()
}

// addMedia adds the local tracks, plus receive-only transceivers for kinds
// the local side does not send when recvOnlyFallback is set.
func addMedia(pc *webrtc.PeerConnection, local LocalMedia, recvOnlyFallback bool) error {
	have := map[webrtc.RTPCodecType]bool{}
	if local != nil {
		for _, track := range local.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add track: %w", err)
			}
			have[track.Kind()] = true

			// Read incoming RTCP packets
			// Before these packets are returned they are processed by interceptors.
			go func() {
				rtcpBuf := make([]byte, 1500)
				for {
					if _, _, err := sender.Read(rtcpBuf); err != nil {
						return
					}
				}
			}()
		}
	}

	if !recvOnlyFallback {
		return nil
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}
