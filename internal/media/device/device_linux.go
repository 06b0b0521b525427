//go:build linux

// Package device captures the local camera and microphone with
// pion/mediadevices and feeds encoded samples into media tracks.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/BioHazard786/studyroom/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const streamID = "studyroom"

// Capturer opens V4L2 cameras and ALSA/Pulse microphones.
type Capturer struct {
	logger *slog.Logger
}

// NewCapturer returns a device capturer.
func NewCapturer(logger *slog.Logger) *Capturer {
	return &Capturer{logger: logging.Component(logger, "device")}
}

// Capture opens the requested devices. When both are requested it falls back
// to video-only, then audio-only, before giving up.
func (c *Capturer) Capture(ctx context.Context, want media.Constraints) (*media.Stream, error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, err
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, errors.New("no media devices found")
	}
	for _, d := range devices {
		c.logger.Debug("media device", "kind", d.Kind, "label", d.Label)
	}

	var attempts []media.Constraints
	switch {
	case want.Video && want.Audio:
		attempts = []media.Constraints{{Video: true, Audio: true}, {Video: true}, {Audio: true}}
	case want.Video || want.Audio:
		attempts = []media.Constraints{want}
	default:
		return nil, errors.New("no devices requested")
	}

	var failures []string
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := c.open(selector, a)
		if err != nil {
			c.logger.Warn("capture attempt failed", "video", a.Video, "audio", a.Audio, "err", err)
			failures = append(failures, err.Error())
			continue
		}
		return stream, nil
	}
	return nil, fmt.Errorf("capture failed: %s", strings.Join(failures, "; "))
}

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func (c *Capturer) open(selector *mediadevices.CodecSelector, a media.Constraints) (*media.Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if a.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras emit broken frames.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if a.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}

	src := ms.GetTracks()
	var tracks []*media.Track
	fail := func(err error) (*media.Stream, error) {
		for _, t := range tracks {
			t.Stop()
		}
		for _, t := range src {
			t.Close()
		}
		return nil, err
	}

	for _, st := range src {
		mime, clock := webrtc.MimeTypeOpus, uint32(48000)
		if st.Kind() == webrtc.RTPCodecTypeVideo {
			mime, clock = webrtc.MimeTypeVP8, 90000
		}

		reader, err := st.NewEncodedReader(mime)
		if err != nil {
			return fail(fmt.Errorf("%s encoder: %w", st.Kind(), err))
		}

		tr, err := media.NewTrack(st.Kind(), st.Kind().String(), streamID)
		if err != nil {
			reader.Close()
			return fail(err)
		}

		done := make(chan struct{})
		dev := st
		tr.OnStop(func() {
			close(done)
			reader.Close()
			dev.Close()
		})
		st.OnEnded(func(err error) {
			if err != nil {
				c.logger.Warn("local track ended", "kind", dev.Kind(), "err", err)
			}
		})

		go c.pump(tr, reader, clock, done)
		tracks = append(tracks, tr)
	}

	c.logger.Info("local media captured", "video", a.Video, "audio", a.Audio, "tracks", len(tracks))
	return media.NewStream(streamID, tracks...), nil
}

// pump copies encoded buffers into tr until the reader fails or the track stops.
func (c *Capturer) pump(tr *media.Track, r mediadevices.EncodedReadCloser, clock uint32, done <-chan struct{}) {
	for {
		buf, release, err := r.Read()
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.Warn("encoder read failed", "kind", tr.Kind(), "err", err)
			}
			return
		}

		d := time.Duration(buf.Samples) * time.Second / time.Duration(clock)
		if err := tr.WriteSample(pionmedia.Sample{Data: buf.Data, Duration: d}); err != nil {
			c.logger.Debug("write sample failed", "kind", tr.Kind(), "err", err)
		}
		release()
	}
}
