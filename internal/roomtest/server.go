// Package roomtest is an in-process stand-in for the study room backend: the
// REST endpoints the client consumes plus the chat and video websockets. It
// exists for tests of the transports and the session orchestrator.
package roomtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message mirrors the backend's chat message shape.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Room mirrors the backend's study room shape.
type Room struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

type videoFrame struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
}

// Frame is a video envelope the server received from a client.
type Frame struct {
	Room   string
	From   string
	Type   string
	Target string
	Raw    json.RawMessage
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is a fake backend on a loopback listener.
type Server struct {
	*httptest.Server
	hub *hub

	mu      sync.Mutex
	tokens  map[string]string
	history map[string][]Message
	rooms   []Room
	joins   map[string][]string
	frames  []Frame
	nextID  int64
	closed  bool
}

// New starts a fake backend. Close it when done.
func New() *Server {
	s := &Server{
		hub:     newHub(),
		tokens:  make(map[string]string),
		history: make(map[string][]Message),
		joins:   make(map[string][]string),
		nextID:  1000,
	}
	s.hub.onChat = s.persistChat
	s.hub.onVideo = s.recordVideo
	go s.hub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/study-rooms/", s.auth(s.listRooms))
	mux.HandleFunc("POST /api/study-rooms/{room}/join/", s.auth(s.joinRoom))
	mux.HandleFunc("GET /api/chat/{room}/messages", s.auth(s.chatHistory))
	mux.HandleFunc("GET /api/chat/{room}", s.serveSocket(kindChat))
	mux.HandleFunc("GET /api/video/{room}", s.serveSocket(kindVideo))

	s.Server = httptest.NewServer(mux)
	return s
}

// Close disconnects every websocket and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.do(func() {
		for _, members := range s.hub.rooms {
			for c := range members {
				c.conn.Close()
			}
		}
	})
	close(s.hub.quit)
	s.Server.Close()
}

// AddUser registers a token for username.
func (s *Server) AddUser(token, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = username
}

// AddRoom adds a room to the directory listing.
func (s *Server) AddRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, r)
}

// SetHistory replaces the stored history of room.
func (s *Server) SetHistory(room string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[room] = append([]Message(nil), msgs...)
}

// Joins lists usernames that called the join endpoint for room, in order.
func (s *Server) Joins(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joins[room]...)
}

// Frames returns every video frame received so far.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// VideoMembers lists usernames connected to the room's video socket.
func (s *Server) VideoMembers(room string) []string {
	return s.hub.members(roomKey{kind: kindVideo, room: room})
}

// ChatMembers lists usernames connected to the room's chat socket.
func (s *Server) ChatMembers(room string) []string {
	return s.hub.members(roomKey{kind: kindChat, room: room})
}

// SendVideo delivers a raw frame to username's video socket in room.
func (s *Server) SendVideo(room, username string, frame any) {
	s.sendTo(roomKey{kind: kindVideo, room: room}, username, mustJSON(frame))
}

// SendChatRaw delivers raw bytes to username's chat socket in room.
func (s *Server) SendChatRaw(room, username string, data []byte) {
	s.sendTo(roomKey{kind: kindChat, room: room}, username, data)
}

// BroadcastChat persists a message from username and pushes it to the room.
func (s *Server) BroadcastChat(room, username, content string) Message {
	msg := s.store(room, username, content)
	s.hub.do(func() {
		s.hub.fanout(roomKey{kind: kindChat, room: room}, nil, mustJSON(msg))
	})
	return msg
}

// KickChat closes username's chat socket with code.
func (s *Server) KickChat(room, username string, code int, reason string) {
	s.hub.do(func() {
		for c := range s.hub.rooms[roomKey{kind: kindChat, room: room}] {
			if c.username == username {
				msg := websocket.FormatCloseMessage(code, reason)
				c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				c.conn.Close()
			}
		}
	})
}

func (s *Server) sendTo(key roomKey, username string, data []byte) {
	s.hub.do(func() {
		for c := range s.hub.rooms[key] {
			if c.username == username {
				s.hub.deliver(c, data)
			}
		}
	})
}

func (s *Server) user(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.tokens[token]
	return name, ok
}

// auth rejects requests without a known bearer token.
func (s *Server) auth(next func(w http.ResponseWriter, r *http.Request, username string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		username, known := s.user(token)
		if !ok || !known {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		next(w, r, username)
	}
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request, _ string) {
	s.mu.Lock()
	rooms := append([]Room{}, s.rooms...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request, username string) {
	room := r.PathValue("room")
	id, err := strconv.Atoi(room)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Room not found"})
		return
	}

	s.mu.Lock()
	s.joins[room] = append(s.joins[room], username)
	out := Room{ID: id, Name: "Room " + room}
	for _, rr := range s.rooms {
		if rr.ID == id {
			out = rr
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request, _ string) {
	s.mu.Lock()
	msgs := append([]Message{}, s.history[r.PathValue("room")]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, msgs)
}

// serveSocket upgrades and registers a client. An unknown token is accepted
// and then closed with 1008, as the real backend does.
func (s *Server) serveSocket(kind channelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		username, ok := s.user(r.URL.Query().Get("token"))
		if !ok {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid token")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			conn.Close()
			return
		}

		c := &client{
			hub:      s.hub,
			conn:     conn,
			key:      roomKey{kind: kind, room: r.PathValue("room")},
			username: username,
			send:     make(chan []byte, 256),
		}
		select {
		case s.hub.register <- c:
		case <-s.hub.quit:
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

// persistChat turns an inbound {content, room_id} frame into a stored
// message, or an {error} frame for the sender.
func (s *Server) persistChat(room, username string, data []byte) []byte {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Content) == "" {
		return mustJSON(map[string]string{"error": "Invalid message"})
	}
	return mustJSON(s.store(room, username, in.Content))
}

func (s *Server) store(room, username, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := Message{ID: s.nextID, Content: content, Username: username, CreatedAt: time.Now().UTC()}
	s.history[room] = append(s.history[room], msg)
	return msg
}

func (s *Server) recordVideo(room, username string, data []byte) {
	var env struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	json.Unmarshal(data, &env)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, Frame{
		Room:   room,
		From:   username,
		Type:   env.Type,
		Target: env.Target,
		Raw:    append(json.RawMessage(nil), data...),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
