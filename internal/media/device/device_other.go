//go:build !linux

package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/studyroom/internal/media"
)

// Capturer reports capture as unavailable; device drivers are Linux-only.
type Capturer struct{}

// NewCapturer returns a capturer that always fails.
func NewCapturer(*slog.Logger) *Capturer {
	return &Capturer{}
}

// Capture always fails, so the session joins receive-only.
func (*Capturer) Capture(context.Context, media.Constraints) (*media.Stream, error) {
	return nil, errors.New("camera and microphone capture is only supported on linux")
}
