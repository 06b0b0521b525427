package rtc

import (
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/pion/webrtc/v4"
)

// Conn adapts a pion peer connection to the operations the peer manager uses.
type Conn struct {
	pc      *webrtc.PeerConnection
	logger  *slog.Logger
	packets atomic.Uint64
}

func newConn(pc *webrtc.PeerConnection, logger *slog.Logger) *Conn {
	return &Conn{pc: pc, logger: logger}
}

// AddTrack attaches a local track and drains its RTCP.
func (c *Conn) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return errs.NewError("add track", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// AddRecvOnly adds a receive-only transceiver so the SDP carries an m-line of
// kind without a local track.
func (c *Conn) AddRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return errs.NewError("add transceiver", err)
	}
	return nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Conn) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *Conn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

// HasRemoteDescription reports whether a remote description is committed.
func (c *Conn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

// OnICECandidate forwards each gathered candidate; the end-of-gathering nil
// is not forwarded.
func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

// OnTrack reports each remote track and then drains its RTP, counting packets.
func (c *Conn) OnTrack(fn func(streamID, trackID string, kind webrtc.RTPCodecType)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Debug("remote track", "stream", remote.StreamID(), "track", remote.ID(), "kind", remote.Kind(), "codec", remote.Codec().MimeType)
		fn(remote.StreamID(), remote.ID(), remote.Kind())

		for {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
			c.packets.Add(1)
		}
	})
}

// OnFailed runs fn when the connection reaches the failed state.
func (c *Conn) OnFailed(fn func()) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state)
		if state == webrtc.PeerConnectionStateFailed {
			fn()
		}
	})
}

// PacketsReceived counts RTP packets read from every remote track.
func (c *Conn) PacketsReceived() uint64 {
	return c.packets.Load()
}

func (c *Conn) Close() error {
	return c.pc.Close()
}
