// Package peer runs the per-participant negotiation of the room mesh: one
// peer connection per remote participant, driven by signaling envelopes.
package peer

import (
	"github.com/BioHazard786/studyroom/internal/signal"
	"github.com/pion/webrtc/v4"
)

// Conn is the peer connection surface the manager drives. *rtc.Conn
// implements it.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) error
	AddRecvOnly(kind webrtc.RTPCodecType) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(streamID, trackID string, kind webrtc.RTPCodecType))
	OnFailed(fn func())
	PacketsReceived() uint64
	Close() error
}

// Sender delivers outbound envelopes; the signaling client implements it.
type Sender interface {
	Send(env signal.Envelope) error
}

// TrackSource supplies the shared local tracks attached to every new
// connection. It may return nil when no media is available.
type TrackSource interface {
	LocalTracks() []webrtc.TrackLocal
}

// State is the negotiation state of one peer.
type State int

const (
	Idle State = iota
	OfferSent
	AnswerPending
	Stable
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case AnswerPending:
		return "answer-pending"
	case Stable:
		return "stable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TrackInfo describes one remote track.
type TrackInfo struct {
	ID   string
	Kind webrtc.RTPCodecType
}

// RemoteStream is the media a peer sends. Values are never mutated once
// published.
type RemoteStream struct {
	ID     string
	Tracks []TrackInfo
}

// HasKind reports whether the stream carries a track of kind.
func (r *RemoteStream) HasKind(kind webrtc.RTPCodecType) bool {
	if r == nil {
		return false
	}
	for _, t := range r.Tracks {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// View is the read-only projection of one peer for rendering.
type View struct {
	PeerID string
	State  State
	Stream *RemoteStream
}

// Stats counts failures the manager absorbed.
type Stats struct {
	Peers        int
	Dropped      int64
	Negotiations int64
	Failures     int64
	Malformed    int64
}
