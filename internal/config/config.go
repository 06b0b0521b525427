package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BioHazard786/studyroom/internal/auth"
)

// Default configuration values
const (
	DefaultAPIBaseURL = "http://localhost:8000"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
)

// Config holds application configuration
type Config struct {
	// APIBaseURL is the backend REST root; websocket URLs are derived from it
	APIBaseURL string

	// Token is the bearer token issued by the backend login endpoint
	Token string

	// Username is the local participant identity used as the mesh key
	Username string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// NoMedia skips camera and microphone capture
	NoMedia bool

	wsBase *url.URL
}

// Options for loading config with CLI flag overrides
type Options struct {
	APIBaseURL string
	Token      string
	Username   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	NoMedia    bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	apiBase := pick(opts.APIBaseURL, "STUDYROOM_API", DefaultAPIBaseURL)
	apiBase = strings.TrimSuffix(apiBase, "/")

	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", apiBase)
	}

	token := pick(opts.Token, "STUDYROOM_TOKEN", "")

	// Username: CLI flag > env > identity carried by the token
	username := pick(opts.Username, "STUDYROOM_USERNAME", "")
	if username == "" && token != "" {
		if name, err := auth.UsernameFromToken(token); err == nil {
			username = name
		}
	}

	turn := pick(opts.TURNServer, "TURN_SERVER", "")
	if opts.ForceRelay && turn == "" {
		return nil, fmt.Errorf("--relay requires a TURN server")
	}

	return &Config{
		APIBaseURL: apiBase,
		Token:      token,
		Username:   username,
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: turn,
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay,
		NoMedia:    opts.NoMedia,
		wsBase:     &ws,
	}, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// ChatURL returns the chat websocket endpoint for a room
func (c *Config) ChatURL(roomID string) string {
	return c.socketURL("/api/chat/" + url.PathEscape(roomID))
}

// VideoURL returns the signaling websocket endpoint for a room
func (c *Config) VideoURL(roomID string) string {
	return c.socketURL("/api/video/" + url.PathEscape(roomID))
}

func (c *Config) socketURL(path string) string {
	u := *c.wsBase
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := url.Values{}
	q.Set("token", c.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
