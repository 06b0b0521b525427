// Package signal carries call signaling for a room: the envelope variant
// exchanged over the video websocket and the client that sends and receives it.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/pion/webrtc/v4"
)

// Kind is the closed set of envelope types.
type Kind string

const (
	UserJoined   Kind = "user_joined"
	UserLeft     Kind = "user_left"
	Offer        Kind = "offer"
	Answer       Kind = "answer"
	ICECandidate Kind = "ice-candidate"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case UserJoined, UserLeft, Offer, Answer, ICECandidate:
		return true
	}
	return false
}

// Envelope is one signaling frame. Membership frames name the peer in
// Username; negotiation frames name it in Sender.
type Envelope struct {
	Type     Kind            `json:"type"`
	Sender   string          `json:"sender,omitempty"`
	Username string          `json:"username,omitempty"`
	Target   string          `json:"target,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Peer is the remote participant the envelope is about.
func (e Envelope) Peer() string {
	if e.Username != "" {
		return e.Username
	}
	return e.Sender
}

// Description decodes the SDP carried by an offer or answer.
func (e Envelope) Description() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if len(e.Data) == 0 {
		return sdp, errs.Malformed("decode "+string(e.Type), errors.New("missing sdp"))
	}
	if err := json.Unmarshal(e.Data, &sdp); err != nil {
		return sdp, errs.Malformed("decode "+string(e.Type), err)
	}
	return sdp, nil
}

// Candidate decodes the ICE candidate carried by an ice-candidate envelope.
func (e Envelope) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if len(e.Data) == 0 {
		return c, errs.Malformed("decode candidate", errors.New("missing candidate"))
	}
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return c, errs.Malformed("decode candidate", err)
	}
	return c, nil
}

// Decode parses a frame. Unknown types and unparseable payloads return
// ErrMalformedEnvelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errs.Malformed("decode envelope", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, errs.Malformed("decode envelope", fmt.Errorf("unknown type %q", env.Type))
	}
	if env.Peer() == "" {
		return Envelope{}, errs.Malformed("decode envelope", fmt.Errorf("%s without sender", env.Type))
	}
	return env, nil
}

// NewOffer builds an offer envelope for target.
func NewOffer(target string, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: Offer, Target: target, Data: mustMarshal(sdp)}
}

// NewAnswer builds an answer envelope for target.
func NewAnswer(target string, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: Answer, Target: target, Data: mustMarshal(sdp)}
}

// NewCandidate builds an ice-candidate envelope for target.
func NewCandidate(target string, c webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: ICECandidate, Target: target, Data: mustMarshal(c)}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
