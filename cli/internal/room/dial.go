package room

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/Warpmeet/cli/internal/chat"
	"github.com/BioHazard786/Warpmeet/cli/internal/config"
	"github.com/BioHazard786/Warpmeet/cli/internal/logging"
	"github.com/BioHazard786/Warpmeet/cli/internal/media"
	"github.com/BioHazard786/Warpmeet/cli/internal/netcheck"
	"github.com/BioHazard786/Warpmeet/cli/internal/peer"
	"github.com/BioHazard786/Warpmeet/cli/internal/signaling"
	"github.com/BioHazard786/Warpmeet/cli/internal/transport"
)

// DialOptions selects what Dial builds.
type DialOptions struct {
	RoomID        string
	ParticipantID string
	// SignalingOnly skips the local media source.
	SignalingOnly bool
	Logger        *slog.Logger
}

// Dial builds the production stack for cfg: HTTP endpoint, polling
// transport, relay connection, pion network, media source and chat. The
// returned session has not joined yet.
func Dial(ctx context.Context, cfg *config.Config, opts DialOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := ParsePolicy(cfg.TogglePolicy)
	if err != nil {
		return nil, err
	}

	endpoint := signaling.NewEndpoint(cfg.EndpointURL, nil)
	tr := transport.New(endpoint, transport.Options{
		PollInterval:  cfg.PollInterval,
		MaxAttempts:   cfg.ReconnectAttempts,
		ReconnectStep: cfg.ReconnectStep,
		Logger:        logger.With("component", "transport"),
	})

	client := signaling.NewClient(cfg.RelayURL, opts.RoomID, opts.ParticipantID)
	if err := client.Connect(ctx); err != nil {
		tr.Disconnect(ctx)
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	handler := signaling.NewHandler(client)
	go handler.Start()

	network, err := peer.NewPionNetwork(peer.Options{
		LocalID:       opts.ParticipantID,
		ICEServers:    peer.ICEServers(cfg),
		ForceRelay:    cfg.GetTURNServers() != nil && (cfg.ForceRelay || netcheck.BehindRestrictiveNAT()),
		Signaler:      client,
		LoggerFactory: logging.PionFactory{Logger: logger},
		Logger:        logger.With("component", "peer"),
	})
	if err != nil {
		client.Close()
		tr.Disconnect(ctx)
		return nil, err
	}

	// The handler closes its channels when the relay connection ends.
	go network.Serve(context.Background(), handler.Signal)
	go func() {
		for e := range handler.Error {
			logger.Debug("relay error", "error", e.Error, "to", e.To)
		}
	}()

	var src MediaSource
	if !opts.SignalingOnly {
		audio, err := media.NewSilentAudio(opts.ParticipantID, logger)
		if err != nil {
			network.Close()
			client.Close()
			tr.Disconnect(ctx)
			return nil, err
		}
		src = audio
	}

	s, err := New(Options{
		RoomID:        opts.RoomID,
		ParticipantID: opts.ParticipantID,
		Transport:     tr,
		Network:       network,
		Chat: chat.NewManager(opts.ParticipantID, chat.Options{
			DisplayName: cfg.DisplayName,
			MaxLength:   cfg.MaxMessageLength,
			Logger:      logger,
		}),
		Media:  src,
		Policy: policy,
		Logger: logger,
	})
	if err != nil {
		network.Close()
		client.Close()
		tr.Disconnect(ctx)
		return nil, err
	}
	s.closers = append(s.closers, client.Close)
	return s, nil
}
