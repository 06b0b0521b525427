// Package api talks to the study room backend's REST endpoints: chat history,
// the room join precondition and the room directory.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/dns"
	"github.com/BioHazard786/studyroom/internal/errs"
)

const requestTimeout = 15 * time.Second

// Room is one entry of the room directory.
type Room struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Subject     string         `json:"subject"`
	Description string         `json:"description,omitempty"`
	CreatedAt   chat.Timestamp `json:"created_at"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

// Client is a bearer-token REST client.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithResolver routes every dial through r.
func WithResolver(r *dns.Resolver) Option {
	return func(c *Client) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DialContext = r.DialContext
		c.http = &http.Client{Transport: tr, Timeout: requestTimeout}
	}
}

// New returns a client for the backend rooted at baseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	c := &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// History returns the stored messages of a room, oldest first.
func (c *Client) History(ctx context.Context, roomID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(roomID)+"/messages", &msgs); err != nil {
		return nil, errs.NewError("fetch history", err)
	}
	return msgs, nil
}

// JoinRoom registers the caller as a member of the room. It must succeed
// before either websocket is opened.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/study-rooms/"+url.PathEscape(roomID)+"/join/", nil); err != nil {
		return errs.NewError("join room", err)
	}
	return nil
}

// Rooms lists the room directory.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, "/api/study-rooms/", &rooms); err != nil {
		return nil, errs.NewError("list rooms", err)
	}
	return rooms, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: detail(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", errs.ErrAuthRejected, serr)
		}
		return serr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// detail pulls FastAPI's {"detail": "..."} out of an error body.
func detail(r io.Reader) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil || body.Detail == nil {
		return ""
	}
	if s, ok := body.Detail.(string); ok {
		return s
	}
	return fmt.Sprint(body.Detail)
}
