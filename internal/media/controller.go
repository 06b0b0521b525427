package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/pion/webrtc/v4"
)

// Constraints selects which devices to capture.
type Constraints struct {
	Video bool
	Audio bool
}

// DefaultConstraints asks for camera and microphone.
var DefaultConstraints = Constraints{Video: true, Audio: true}

// Capturer opens capture devices. The device package provides the real one.
type Capturer interface {
	Capture(ctx context.Context, c Constraints) (*Stream, error)
}

// State is a snapshot of local media for display.
type State struct {
	Available bool
	HasAudio  bool
	HasVideo  bool
	Muted     bool
	VideoOff  bool
}

// Controller owns the local stream and its mute and video-off flags.
type Controller struct {
	capturer Capturer
	logger   *slog.Logger

	mu       sync.Mutex
	stream   *Stream
	muted    bool
	videoOff bool
}

// NewController returns a controller without a stream. A nil capturer means
// capture is never available.
func NewController(capturer Capturer, logger *slog.Logger) *Controller {
	return &Controller{capturer: capturer, logger: logging.Component(logger, "media")}
}

// Acquire captures a stream, replacing none if one is already held. Failure
// wraps ErrMediaUnavailable and leaves the controller without a stream.
func (c *Controller) Acquire(ctx context.Context, want Constraints) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.stream, nil
	}
	if c.capturer == nil {
		return nil, errs.NewError("acquire media", errs.ErrMediaUnavailable)
	}

	stream, err := c.capturer.Capture(ctx, want)
	if err != nil {
		c.logger.Warn("media capture failed", "err", err)
		return nil, errs.NewError("acquire media", fmt.Errorf("%w: %w", errs.ErrMediaUnavailable, err))
	}
	if len(stream.tracks) == 0 {
		stream.Stop()
		return nil, errs.NewError("acquire media", errs.ErrMediaUnavailable)
	}

	c.stream = stream
	c.muted = false
	c.videoOff = false
	c.logger.Info("local media acquired", "audio", len(stream.AudioTracks()), "video", len(stream.VideoTracks()))
	return stream, nil
}

// ToggleMute flips enablement of every audio track. It never touches peer
// connections. Without a stream it is a no-op.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return c.muted
	}
	c.muted = !c.muted
	for _, t := range c.stream.AudioTracks() {
		t.setEnabled(!c.muted)
	}
	return c.muted
}

// ToggleVideo flips enablement of every video track.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return c.videoOff
	}
	c.videoOff = !c.videoOff
	for _, t := range c.stream.VideoTracks() {
		t.setEnabled(!c.videoOff)
	}
	return c.videoOff
}

// State returns the current flags.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Muted: c.muted, VideoOff: c.videoOff}
	if c.stream != nil {
		s.Available = true
		s.HasAudio = len(c.stream.AudioTracks()) > 0
		s.HasVideo = len(c.stream.VideoTracks()) > 0
	}
	return s
}

// LocalTracks returns the shared tracks to attach to a new peer connection,
// or nil without a stream.
func (c *Controller) LocalTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	return c.stream.LocalTracks()
}

// Release stops every track and drops the stream.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return
	}
	c.stream.Stop()
	c.stream = nil
	c.muted = false
	c.videoOff = false
}
