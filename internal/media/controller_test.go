package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type fakeCapturer struct {
	err   error
	calls int
	got   Constraints
}

func (f *fakeCapturer) Capture(_ context.Context, c Constraints) (*Stream, error) {
	f.calls++
	f.got = c
	if f.err != nil {
		return nil, f.err
	}
	var tracks []*Track
	if c.Audio {
		a, err := NewTrack(webrtc.RTPCodecTypeAudio, "audio", "local")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, a)
	}
	if c.Video {
		v, err := NewTrack(webrtc.RTPCodecTypeVideo, "video", "local")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, v)
	}
	return NewStream("local", tracks...), nil
}

func acquired(t *testing.T) (*Controller, *Stream) {
	t.Helper()
	c := NewController(&fakeCapturer{}, nil)
	s, err := c.Acquire(context.Background(), DefaultConstraints)
	if err != nil {
		t.Fatal(err)
	}
	return c, s
}

func TestAcquire(t *testing.T) {
	c, s := acquired(t)
	if len(s.AudioTracks()) != 1 || len(s.VideoTracks()) != 1 {
		t.Fatalf("tracks = %d audio %d video", len(s.AudioTracks()), len(s.VideoTracks()))
	}
	if got := c.LocalTracks(); len(got) != 2 {
		t.Fatalf("LocalTracks = %d", len(got))
	}
	st := c.State()
	if !st.Available || !st.HasAudio || !st.HasVideo || st.Muted || st.VideoOff {
		t.Fatalf("state = %+v", st)
	}

	again, err := c.Acquire(context.Background(), DefaultConstraints)
	if err != nil || again != s {
		t.Fatalf("second Acquire should return the held stream")
	}
}

func TestAcquireFailureIsMediaUnavailable(t *testing.T) {
	c := NewController(&fakeCapturer{err: errors.New("permission denied")}, nil)
	if _, err := c.Acquire(context.Background(), DefaultConstraints); !errors.Is(err, errs.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if c.State().Available || c.LocalTracks() != nil {
		t.Fatal("controller should hold no stream")
	}

	none := NewController(nil, nil)
	if _, err := none.Acquire(context.Background(), DefaultConstraints); !errors.Is(err, errs.ErrMediaUnavailable) {
		t.Fatalf("nil capturer = %v", err)
	}
}

func TestToggleMuteTwiceRestores(t *testing.T) {
	c, s := acquired(t)
	audio := s.AudioTracks()[0]
	video := s.VideoTracks()[0]

	if !c.ToggleMute() || audio.Enabled() {
		t.Fatal("first toggle should mute")
	}
	if !video.Enabled() {
		t.Fatal("mute must not touch video")
	}
	if c.ToggleMute() || !audio.Enabled() {
		t.Fatal("second toggle should restore audio")
	}
}

func TestToggleVideo(t *testing.T) {
	c, s := acquired(t)
	video := s.VideoTracks()[0]

	if !c.ToggleVideo() || video.Enabled() || !c.State().VideoOff {
		t.Fatal("video should be off")
	}
	if !s.AudioTracks()[0].Enabled() {
		t.Fatal("video toggle must not touch audio")
	}
	c.ToggleVideo()
	if !video.Enabled() {
		t.Fatal("video should be back on")
	}
}

func TestToggleWithoutStreamIsNoop(t *testing.T) {
	c := NewController(nil, nil)
	if c.ToggleMute() || c.ToggleVideo() {
		t.Fatal("toggles without a stream should stay false")
	}
}

func TestReleaseStopsTracks(t *testing.T) {
	c, s := acquired(t)
	stopped := 0
	for _, tr := range s.Tracks() {
		tr.OnStop(func() { stopped++ })
	}

	c.Release()
	c.Release()
	if stopped != 2 {
		t.Fatalf("stop callbacks = %d", stopped)
	}
	for _, tr := range s.Tracks() {
		if !tr.Stopped() {
			t.Fatalf("track %s still running", tr.ID())
		}
	}
	if c.State().Available {
		t.Fatal("stream should be gone")
	}
}

func TestDisabledTrackDropsSamples(t *testing.T) {
	tr, err := NewTrack(webrtc.RTPCodecTypeAudio, "a", "s")
	if err != nil {
		t.Fatal(err)
	}
	sample := pionmedia.Sample{Data: []byte{1, 2, 3}, Duration: 20 * time.Millisecond}

	tr.setEnabled(false)
	if err := tr.WriteSample(sample); err != nil {
		t.Fatal(err)
	}
	tr.setEnabled(true)
	if err := tr.WriteSample(sample); err != nil {
		t.Fatal(err)
	}
	tr.Stop()
	if err := tr.WriteSample(sample); err != nil {
		t.Fatal(err)
	}
}

type emptyCapturer struct{ stream *Stream }

func (e *emptyCapturer) Capture(context.Context, Constraints) (*Stream, error) {
	e.stream = NewStream("empty")
	return e.stream, nil
}

func TestAcquireEmptyStreamIsStopped(t *testing.T) {
	capt := &emptyCapturer{}
	c := NewController(capt, nil)

	if _, err := c.Acquire(context.Background(), DefaultConstraints); !errors.Is(err, errs.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if !capt.stream.Stopped() {
		t.Fatal("a trackless capture must be stopped")
	}
	if c.State().Available {
		t.Fatal("controller should hold no stream")
	}
}
