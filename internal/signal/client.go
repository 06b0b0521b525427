package signal

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/BioHazard786/studyroom/internal/transport"
)

// Config describes one signaling connection.
type Config struct {
	URL string
	// Self is the local identity; envelopes it sent are discarded.
	Self    string
	Options transport.Options
}

// Client is a connected signaling transport.
type Client struct {
	conn      *transport.Conn
	self      string
	logger    *slog.Logger
	envelopes chan Envelope
	malformed atomic.Int64
}

// Dial opens the signaling websocket.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Options.Name == "" {
		cfg.Options.Name = "signal"
	}
	conn, err := transport.Dial(ctx, cfg.URL, cfg.Options)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:      conn,
		self:      cfg.Self,
		logger:    logging.Component(cfg.Options.Logger, "signal"),
		envelopes: make(chan Envelope, 64),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.envelopes)

	for data := range c.conn.Incoming() {
		env, err := Decode(data)
		if err != nil {
			c.malformed.Add(1)
			c.logger.Warn("dropping envelope", "err", err)
			continue
		}
		if env.Peer() == c.self {
			continue
		}
		select {
		case c.envelopes <- env:
		case <-c.conn.Done():
			return
		}
	}
}

// Envelopes delivers decoded envelopes in transport order. It is closed when
// the connection ends.
func (c *Client) Envelopes() <-chan Envelope {
	return c.envelopes
}

// Send transmits env. On a connection that is not open the envelope is
// dropped and counted, and ErrNotOpen is returned.
func (c *Client) Send(env Envelope) error {
	if err := c.conn.Send(env); err != nil {
		c.logger.Debug("signal send dropped", "type", env.Type, "target", env.Target, "err", err)
		return err
	}
	return nil
}

// State reports the connection state.
func (c *Client) State() transport.State {
	return c.conn.State()
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// CloseInfo reports how the connection ended.
func (c *Client) CloseInfo() transport.CloseInfo {
	return c.conn.CloseInfo()
}

// Dropped counts envelopes that could not be sent.
func (c *Client) Dropped() int64 {
	return c.conn.Dropped()
}

// Malformed counts inbound frames that failed to decode.
func (c *Client) Malformed() int64 {
	return c.malformed.Load()
}

// Close ends the connection with a normal closure.
func (c *Client) Close() {
	c.conn.Close(transport.CloseNormal, "leaving room")
}
