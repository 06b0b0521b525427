// Package media owns the local camera and microphone stream. One stream is
// shared by every peer connection; only the Controller flips track enablement.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Track is one local capture track. While disabled, samples are discarded
// before they reach any peer; the track itself stays in every SDP.
type Track struct {
	kind    webrtc.RTPCodecType
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool

	stopOnce sync.Once
	onStop   func()
}

// NewTrack creates a VP8 video or Opus audio track.
func NewTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

// Kind is audio or video.
func (t *Track) Kind() webrtc.RTPCodecType {
	return t.kind
}

// ID is the track id advertised in SDP.
func (t *Track) ID() string {
	return t.local.ID()
}

// Enabled reports whether samples are forwarded.
func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) setEnabled(v bool) {
	t.enabled.Store(v)
}

// Local is the pion track attached to peer connections.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

// OnStop registers fn to run once when the track stops; capture pumps use it
// to release their device.
func (t *Track) OnStop(fn func()) {
	t.onStop = fn
}

// WriteSample forwards an encoded sample unless the track is disabled or
// stopped. A dropped sample is not an error.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// Stopped reports whether Stop has run.
func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Stop ends the track. Further samples are discarded.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// Stream groups the tracks of one capture.
type Stream struct {
	ID      string
	tracks  []*Track
	stopped atomic.Bool
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

// Tracks returns every track of the stream.
func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*Track {
	return s.ofKind(webrtc.RTPCodecTypeAudio)
}

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*Track {
	return s.ofKind(webrtc.RTPCodecTypeVideo)
}

func (s *Stream) ofKind(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// LocalTracks returns the pion tracks to attach to a peer connection.
func (s *Stream) LocalTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.local)
	}
	return out
}

// Stop stops every track.
func (s *Stream) Stop() {
	s.stopped.Store(true)
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Stopped reports whether Stop has run.
func (s *Stream) Stopped() bool {
	return s.stopped.Load()
}
