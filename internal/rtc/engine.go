// Package rtc builds pion peer connections for the room mesh: codecs,
// interceptors, ICE servers and relay policy, with a small adapter the peer
// manager drives.
package rtc

import (
	"log/slog"
	"time"

	"github.com/BioHazard786/studyroom/internal/config"
	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Engine creates peer connections sharing one pion API.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *slog.Logger
}

// NewEngine registers the default codecs (VP8, Opus and friends) and
// interceptors, and resolves the ICE configuration from cfg.
func NewEngine(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errs.NewError("register codecs", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, errs.NewError("register interceptors", err)
	}

	// Relay paths can stall briefly; keep ICE from declaring failure too soon.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(15*time.Second, 60*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &Engine{
		api:    api,
		config: ICEConfiguration(cfg),
		logger: logging.Component(logger, "rtc"),
	}, nil
}

// ICEConfiguration lists the STUN server, any TURN servers, and the transport
// policy. Relay-only is used when forced, or when a TURN server exists and the
// host looks to be behind a VPN or CGNAT.
func ICEConfiguration(cfg *config.Config) webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turn := cfg.GetTURNServers()
	if turn != nil {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   user,
			Credential: pass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turn != nil && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// NewConn creates a peer connection.
func (e *Engine) NewConn() (*Conn, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, errs.NewError("create peer connection", err)
	}
	return newConn(pc, e.logger), nil
}
