// Package transport owns a single websocket connection to the backend: the
// read and write pumps, keepalive pings, open/closed state, and the close code
// the connection ended with. The chat and signaling clients are built on it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/studyroom/internal/dns"
	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// Close codes used by the backend.
const (
	CloseNormal       = websocket.CloseNormalClosure
	ClosePolicy       = websocket.ClosePolicyViolation
	CloseAbnormal     = websocket.CloseAbnormalClosure
	CloseGoingAway    = websocket.CloseGoingAway
	closeNoStatusRcvd = websocket.CloseNoStatusReceived
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// CloseInfo records how a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
	// Local is true when this side initiated the close.
	Local bool
}

// AuthRejected reports whether the server refused the token or room.
func (c CloseInfo) AuthRejected() bool {
	return c.Code == ClosePolicy
}

// Options configures Dial.
type Options struct {
	Resolver *dns.Resolver
	Header   http.Header
	Logger   *slog.Logger
	// Name tags log lines (e.g. "chat", "signal").
	Name string
}

// Conn manages one websocket connection.
type Conn struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
	finished chan struct{}

	state   atomic.Int32
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.Mutex
	info      CloseInfo
}

// Dial opens a websocket to rawURL and starts the pumps. The returned Conn
// is already open.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if opts.Resolver != nil {
		dialer.NetDialContext = opts.Resolver.DialContext
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errs.WrapError("connect", errs.ErrAuthRejected, resp.Status)
		}
		return nil, errs.NewError("connect", fmt.Errorf("%w: %w", errs.ErrTransportUnavailable, err))
	}

	name := opts.Name
	if name == "" {
		name = "transport"
	}
	return newConn(conn, logging.Component(opts.Logger, name).With("endpoint", u.Path)), nil
}

func newConn(conn *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		conn:     conn,
		logger:   logger,
		incoming: make(chan []byte, 32),
		outgoing: make(chan []byte, 32),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c
}

// readPump reads frames until the connection ends, then records why.
func (c *Conn) readPump() {
	defer func() {
		c.state.Store(int32(StateClosed))
		c.conn.Close()
		close(c.incoming)
		close(c.finished)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.recordClose(err)
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		select {
		case c.incoming <- data:
		case <-c.done:
			// Consumer is gone; keep reading so the close handshake completes.
		}
	}
}

// writePump serialises writes and sends periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "err", err)
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-c.done:
			c.mu.Lock()
			info := c.info
			c.mu.Unlock()
			msg := websocket.FormatCloseMessage(info.Code, info.Reason)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

			// Give the server a moment to answer the close frame.
			select {
			case <-c.finished:
			case <-time.After(closeGrace):
				c.conn.Close()
			}
			return

		case <-c.finished:
			return
		}
	}
}

func (c *Conn) recordClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info.Local {
		return
	}

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		c.info = CloseInfo{Code: ce.Code, Reason: ce.Text}
	case errors.Is(err, net.ErrClosed):
		c.info = CloseInfo{Code: CloseAbnormal, Reason: "connection closed"}
	default:
		c.info = CloseInfo{Code: CloseAbnormal, Reason: err.Error()}
	}
	if c.info.Code == closeNoStatusRcvd {
		c.info.Code = CloseNormal
	}
	c.logger.Debug("connection closed", "code", c.info.Code, "reason", c.info.Reason)
}

// Incoming returns the channel of received frames. It is closed when the
// connection ends.
func (c *Conn) Incoming() <-chan []byte {
	return c.incoming
}

// Done is closed once the connection has fully ended.
func (c *Conn) Done() <-chan struct{} {
	return c.finished
}

// State reports whether the connection is still open.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// CloseInfo returns the close code; only meaningful after Done.
func (c *Conn) CloseInfo() CloseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Dropped counts frames that could not be sent because the connection was
// not open.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Send marshals v as JSON and queues it. It never blocks on a closed
// connection: the frame is dropped, counted, and ErrNotOpen returned.
func (c *Conn) Send(v any) error {
	if c.State() != StateOpen {
		c.dropped.Add(1)
		return errs.ErrNotOpen
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errs.NewError("marshal frame", err)
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
	case <-c.finished:
	}
	c.dropped.Add(1)
	return errs.ErrNotOpen
}

// Close starts a close handshake with code and reason. Further sends fail.
// Safe to call more than once.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.State() == StateOpen {
			c.info = CloseInfo{Code: code, Reason: reason, Local: true}
		}
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}
