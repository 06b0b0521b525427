package errs

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationMissing = errors.New("no authentication token found, please log in")
	ErrAuthRejected          = errors.New("invalid token or room not found")
	ErrTransportUnavailable  = errors.New("transport unavailable")
	ErrMediaUnavailable      = errors.New("camera or microphone unavailable")
	ErrNegotiationFailed     = errors.New("negotiation failed")
	ErrMalformedEnvelope     = errors.New("malformed envelope")
	ErrNotOpen               = errors.New("channel not open")
	ErrClosed                = errors.New("closed")
	ErrEmptyMessage          = errors.New("message is empty")
)

// Error carries the operation and peer an underlying failure belongs to.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Peer)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Negotiation marks err as a negotiation failure for peer while keeping the
// engine error in the chain.
func Negotiation(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)}
}

// Malformed marks a payload as unparseable.
func Malformed(op string, err error) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)}
}
