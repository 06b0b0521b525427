package roomtest

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 * 1024
)

type channelKind int

const (
	kindChat channelKind = iota
	kindVideo
)

type roomKey struct {
	kind channelKind
	room string
}

// client is one websocket connected to the fake backend.
type client struct {
	hub      *hub
	conn     *websocket.Conn
	key      roomKey
	username string
	send     chan []byte
}

type inbound struct {
	from *client
	data []byte
}

// hub is the single goroutine that owns room membership and routes frames.
type hub struct {
	rooms map[roomKey]map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan inbound
	exec       chan func()
	quit       chan struct{}

	onChat  func(room, username string, data []byte) []byte
	onVideo func(room, username string, data []byte)
}

func newHub() *hub {
	return &hub{
		rooms:      make(map[roomKey]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan inbound),
		exec:       make(chan func()),
		quit:       make(chan struct{}),
	}
}

// run processes registration, frames and queries until quit.
func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			members := h.rooms[c.key]
			if members == nil {
				members = make(map[*client]bool)
				h.rooms[c.key] = members
			}
			members[c] = true
			if c.key.kind == kindVideo {
				h.fanout(c.key, c, mustJSON(videoFrame{Type: "user_joined", Username: c.username}))
			}

		case c := <-h.unregister:
			members := h.rooms[c.key]
			if !members[c] {
				continue
			}
			delete(members, c)
			close(c.send)
			if len(members) == 0 {
				delete(h.rooms, c.key)
			}
			if c.key.kind == kindVideo {
				h.fanout(c.key, nil, mustJSON(videoFrame{Type: "user_left", Username: c.username}))
			}

		case msg := <-h.broadcast:
			switch msg.from.key.kind {
			case kindChat:
				h.routeChat(msg)
			case kindVideo:
				h.routeVideo(msg)
			}

		case fn := <-h.exec:
			fn()

		case <-h.quit:
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *hub) do(fn func()) {
	done := make(chan struct{})
	select {
	case h.exec <- func() { fn(); close(done) }:
		<-done
	case <-h.quit:
	}
}

func (h *hub) routeChat(msg inbound) {
	out := h.onChat(msg.from.key.room, msg.from.username, msg.data)
	if out == nil {
		return
	}
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(out, &probe) == nil && probe.Error != "" {
		h.deliver(msg.from, out)
		return
	}
	h.fanout(msg.from.key, nil, out)
}

// routeVideo stamps the sender and relays to the target, or to everyone else
// when no target is set.
func (h *hub) routeVideo(msg inbound) {
	h.onVideo(msg.from.key.room, msg.from.username, msg.data)

	var env map[string]json.RawMessage
	if err := json.Unmarshal(msg.data, &env); err != nil {
		log.Printf("roomtest: dropping malformed video frame from %s", msg.from.username)
		return
	}
	env["sender"] = mustJSON(msg.from.username)
	out := mustJSON(env)

	var target string
	if raw, ok := env["target"]; ok {
		json.Unmarshal(raw, &target)
	}
	if target == "" {
		h.fanout(msg.from.key, msg.from, out)
		return
	}
	for c := range h.rooms[msg.from.key] {
		if c.username == target {
			h.deliver(c, out)
		}
	}
}

// fanout sends data to every member of key except skip.
func (h *hub) fanout(key roomKey, skip *client, data []byte) {
	for c := range h.rooms[key] {
		if c != skip {
			h.deliver(c, data)
		}
	}
}

func (h *hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("roomtest: send buffer full for %s", c.username)
	}
}

func (h *hub) members(key roomKey) []string {
	var names []string
	h.do(func() {
		for c := range h.rooms[key] {
			names = append(names, c.username)
		}
	})
	return names
}

// readPump forwards frames from the websocket to the hub.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.hub.broadcast <- inbound{from: c, data: data}:
		case <-c.hub.quit:
			return
		}
	}
}

// writePump writes hub output to the websocket.
func (c *client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
