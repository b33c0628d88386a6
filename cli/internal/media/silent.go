// Package media supplies the local stream offered on calls. Capture and
// device selection are not handled here; the source sends Opus silence so
// the remote side receives a live audio track.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// FrameDuration is the length of one Opus frame.
const FrameDuration = 20 * time.Millisecond

// silenceFrame is a single 20ms Opus frame of digital silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// Source is a local stream with one audio track.
type Source struct {
	track  *webrtc.TrackLocalStaticSample
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSilentAudio creates an audio source labelled with streamID.
func NewSilentAudio(streamID string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &Source{track: track, logger: logger, enabled: true}, nil
}

// Tracks implements peer.LocalMedia.
func (s *Source) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// SetEnabled mutes or unmutes the source. A muted source keeps the track
// but stops writing samples.
func (s *Source) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *Source) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Start writes frames until Stop or ctx ends. Calling Start twice is a no-op.
func (s *Source) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
}

// Stop ends the writer and waits for it.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Source) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Enabled() {
				continue
			}
			if err := s.track.WriteSample(media.Sample{Data: silenceFrame, Duration: FrameDuration}); err != nil {
				s.logger.Debug("failed to write audio sample", "error", err)
			}
		}
	}
}
