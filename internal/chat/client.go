// Package chat is the room chat transport: a websocket that delivers chat
// messages and accepts fire-and-forget sends. The server echoes every
// persisted message back, which is how a sender sees its own messages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/BioHazard786/studyroom/internal/transport"
)

// Message is one persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	CreatedAt Timestamp `json:"created_at"`
}

// Timestamp is a created_at value. The backend may send RFC 3339 with a zone
// or a naive ISO timestamp, which is read as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("invalid created_at %q", raw)
}

// outbound is the frame the backend expects; room_id is numeric when the
// room identifier is.
type outbound struct {
	Content string `json:"content"`
	RoomID  any    `json:"room_id"`
}

// frame is either a Message or {error}.
type frame struct {
	Message
	Error *string `json:"error"`
}

// Config describes one chat connection.
type Config struct {
	URL     string
	RoomID  string
	Options transport.Options
}

// Client is a connected chat transport.
type Client struct {
	conn     *transport.Conn
	roomID   any
	logger   *slog.Logger
	messages chan Message
	notices  chan string
}

// Dial opens the chat websocket. A rejected handshake returns ErrAuthRejected;
// any other failure returns ErrTransportUnavailable.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Options.Name == "" {
		cfg.Options.Name = "chat"
	}
	conn, err := transport.Dial(ctx, cfg.URL, cfg.Options)
	if err != nil {
		return nil, err
	}

	var roomID any = cfg.RoomID
	if n, err := strconv.Atoi(cfg.RoomID); err == nil {
		roomID = n
	}

	c := &Client{
		conn:     conn,
		roomID:   roomID,
		logger:   logging.Component(cfg.Options.Logger, "chat").With("room", cfg.RoomID),
		messages: make(chan Message, 64),
		notices:  make(chan string, 8),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.messages)
	defer close(c.notices)

	for data := range c.conn.Incoming() {
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping chat frame", "err", errs.Malformed("decode chat frame", err))
			continue
		}
		if f.Error == nil && f.ID == 0 && f.Username == "" {
			c.logger.Warn("dropping chat frame", "err", errs.Malformed("decode chat frame", errors.New("not a chat message")))
			continue
		}
		if f.Error != nil {
			select {
			case c.notices <- "Chat error: " + *f.Error:
			default:
				c.logger.Warn("chat notice dropped", "notice", *f.Error)
			}
			continue
		}
		select {
		case c.messages <- f.Message:
		case <-c.conn.Done():
			return
		}
	}
}

// Messages delivers received messages in arrival order. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Notices delivers server error frames as user-facing text.
func (c *Client) Notices() <-chan string {
	return c.notices
}

// Send transmits content without waiting for the echo. Whitespace-only content
// is rejected with ErrEmptyMessage; a closed connection yields ErrNotOpen.
func (c *Client) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errs.ErrEmptyMessage
	}
	if err := c.conn.Send(outbound{Content: content, RoomID: c.roomID}); err != nil {
		c.logger.Debug("chat send dropped", "err", err)
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

// Dropped counts sends attempted while the connection was not open.
func (c *Client) Dropped() int64 {
	return c.conn.Dropped()
}

// Close ends the connection with a normal closure.
func (c *Client) Close() {
	c.conn.Close(transport.CloseNormal, "leaving room")
}

// CloseReason is the user-visible explanation of how a chat connection ended.
// An authentication or room failure reads differently from every other code.
func CloseReason(info transport.CloseInfo) string {
	switch {
	case info.AuthRejected():
		return "Chat connection closed: invalid token or room not found."
	case info.Code == transport.CloseNormal:
		return "Chat connection closed."
	default:
		return fmt.Sprintf("Chat connection lost (code %d)", info.Code)
	}
}
