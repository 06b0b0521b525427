// Package session composes one room: the join precondition, chat history and
// transport, local media, the signaling transport and the peer manager. It
// exposes a single read-only view of all of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/BioHazard786/studyroom/internal/media"
	"github.com/BioHazard786/studyroom/internal/peer"
	"github.com/BioHazard786/studyroom/internal/signal"
	"github.com/BioHazard786/studyroom/internal/transport"
	"github.com/BioHazard786/studyroom/internal/view"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// RoomAPI is the REST surface a session needs.
type RoomAPI interface {
	JoinRoom(ctx context.Context, roomID string) error
	History(ctx context.Context, roomID string) ([]chat.Message, error)
}

// ChatTransport is a connected chat channel.
type ChatTransport interface {
	Messages() <-chan chat.Message
	Notices() <-chan string
	Send(content string) error
	State() transport.State
	Done() <-chan struct{}
	CloseInfo() transport.CloseInfo
	Close()
}

// SignalTransport is a connected signaling channel.
type SignalTransport interface {
	Envelopes() <-chan signal.Envelope
	Send(env signal.Envelope) error
	State() transport.State
	Done() <-chan struct{}
	CloseInfo() transport.CloseInfo
	Dropped() int64
	Close()
}

// Media is the local media controller.
type Media interface {
	Acquire(ctx context.Context, c media.Constraints) (*media.Stream, error)
	ToggleMute() bool
	ToggleVideo() bool
	State() media.State
	LocalTracks() []webrtc.TrackLocal
	Release()
}

// Deps are the collaborators a session drives.
type Deps struct {
	API        RoomAPI
	DialChat   func(ctx context.Context, roomID string) (ChatTransport, error)
	DialSignal func(ctx context.Context, roomID string) (SignalTransport, error)
	Media      Media
	NewConn    func() (peer.Conn, error)
	Logger     *slog.Logger
}

// Config carries the injected identity and media preferences.
type Config struct {
	Token       string
	Username    string
	Constraints media.Constraints
	NoMedia     bool
}

// Stats summarises one room's counters.
type Stats struct {
	Peers          peer.Stats
	SignalsDropped int64
}

type room struct {
	id     string
	cancel context.CancelFunc
	chat   ChatTransport
	signal SignalTransport
	peers  *peer.Manager
	wg     sync.WaitGroup
}

// Session is one participant's presence in a room. Start or SwitchRoom moves
// it between rooms; Close leaves for good.
type Session struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	model  *view.Model

	lifecycle sync.Mutex
	mu        sync.Mutex
	room      *room
	closed    bool
}

// New validates identity and returns an idle session. A missing token fails
// with ErrAuthenticationMissing before anything is dialled.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Token == "" {
		return nil, errs.NewError("new session", errs.ErrAuthenticationMissing)
	}
	if cfg.Username == "" {
		return nil, errs.WrapError("new session", errs.ErrAuthenticationMissing, "no username in token")
	}
	if deps.API == nil || deps.DialChat == nil || deps.DialSignal == nil || deps.NewConn == nil {
		return nil, errors.New("session: missing dependency")
	}
	if deps.Media == nil {
		deps.Media = media.NewController(nil, deps.Logger)
	}
	if cfg.Constraints == (media.Constraints{}) {
		cfg.Constraints = media.DefaultConstraints
	}

	id := uuid.NewString()
	return &Session{
		cfg:    cfg,
		deps:   deps,
		logger: logging.Component(deps.Logger, "session").With("session", id, "user", cfg.Username),
		model:  view.NewModel("", cfg.Username),
	}, nil
}

// Start joins roomID, leaving any current room first. Only a failed join is
// fatal; media, history, chat and signaling each degrade on their own and are
// reported through the view.
func (s *Session) Start(ctx context.Context, roomID string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errs.ErrClosed
	}

	s.leave()

	logger := s.logger.With("room", roomID)
	s.model.Update(func(v *view.Snapshot) {
		*v = view.Snapshot{
			RoomID:       roomID,
			Self:         s.cfg.Username,
			ChatStatus:   view.Connecting,
			SignalStatus: view.Connecting,
		}
	})

	if err := s.deps.API.JoinRoom(ctx, roomID); err != nil {
		s.model.Update(func(v *view.Snapshot) {
			v.ChatStatus, v.SignalStatus = view.Disconnected, view.Disconnected
			v.Notice = "Could not join room: " + err.Error()
		})
		return err
	}

	if !s.cfg.NoMedia {
		if _, err := s.deps.Media.Acquire(ctx, s.cfg.Constraints); err != nil {
			logger.Warn("continuing without local media", "err", err)
			s.model.SetNotice("Camera/microphone unavailable; joined without local media.")
		}
	}
	s.model.SetMedia(s.deps.Media.State())

	roomCtx, cancel := context.WithCancel(context.Background())
	r := &room{id: roomID, cancel: cancel}

	if history, err := s.deps.API.History(ctx, roomID); err != nil {
		logger.Warn("history fetch failed", "err", err)
		s.model.SetNotice("Could not load chat history.")
	} else {
		s.model.SetHistory(history)
	}

	if c, err := s.deps.DialChat(ctx, roomID); err != nil {
		logger.Warn("chat unavailable", "err", err)
		s.model.SetChat(view.Disconnected, dialNotice("Chat", err))
	} else {
		r.chat = c
		s.model.SetChat(view.Connected, "")
		r.wg.Add(1)
		go s.pumpChat(roomCtx, r, logger)
	}

	if sc, err := s.deps.DialSignal(ctx, roomID); err != nil {
		logger.Warn("signaling unavailable", "err", err)
		s.model.SetSignal(view.Disconnected, dialNotice("Call", err))
	} else {
		r.signal = sc
		r.peers = peer.New(peer.Config{
			Self:     s.cfg.Username,
			NewConn:  s.deps.NewConn,
			Sender:   sc,
			Media:    s.deps.Media,
			OnChange: s.model.SetPeers,
			Logger:   logger,
		})
		s.model.SetSignal(view.Connected, "")
		r.wg.Add(1)
		go s.pumpSignal(roomCtx, r, logger)
	}

	s.mu.Lock()
	s.room = r
	s.mu.Unlock()
	logger.Info("joined room", "chat", r.chat != nil, "call", r.signal != nil)
	return nil
}

// SwitchRoom tears down the current room and starts roomID. Switching to the
// current room is a no-op.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	same := s.room != nil && s.room.id == roomID
	s.mu.Unlock()
	if same {
		return nil
	}
	return s.Start(ctx, roomID)
}

func (s *Session) pumpChat(ctx context.Context, r *room, logger *slog.Logger) {
	defer r.wg.Done()
	messages, notices := r.chat.Messages(), r.chat.Notices()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			s.model.SetNotice(n)
		case msg, ok := <-messages:
			if !ok {
				<-r.chat.Done()
				if ctx.Err() == nil {
					info := r.chat.CloseInfo()
					logger.Info("chat closed", "code", info.Code, "reason", info.Reason)
					s.model.SetChat(view.Disconnected, chat.CloseReason(info))
				}
				return
			}
			s.model.AppendMessage(msg)
		}
	}
}

func (s *Session) pumpSignal(ctx context.Context, r *room, logger *slog.Logger) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-r.signal.Envelopes():
			if !ok {
				<-r.signal.Done()
				if ctx.Err() == nil {
					info := r.signal.CloseInfo()
					logger.Info("signaling closed", "code", info.Code, "reason", info.Reason)
					r.peers.Close()
					s.model.SetSignal(view.Disconnected, signalReason(info))
				}
				return
			}
			r.peers.Handle(env)
		}
	}
}

// leave tears the current room down: peers, then signaling, then chat, then
// local media. Callers hold lifecycle.
func (s *Session) leave() {
	s.mu.Lock()
	r := s.room
	s.room = nil
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	if r.peers != nil {
		r.peers.Close()
	}
	if r.signal != nil {
		r.signal.Close()
	}
	if r.chat != nil {
		r.chat.Close()
	}
	r.wg.Wait()
	s.deps.Media.Release()

	s.model.Update(func(v *view.Snapshot) {
		v.ChatStatus, v.SignalStatus = view.Disconnected, view.Disconnected
		v.Peers = nil
		v.Media = media.State{}
	})
	s.logger.Info("left room", "room", r.id)
}

// SendChat sends content to the current room's chat.
func (s *Session) SendChat(content string) error {
	s.mu.Lock()
	r := s.room
	s.mu.Unlock()
	if r == nil || r.chat == nil {
		return errs.ErrNotOpen
	}
	return r.chat.Send(content)
}

// ToggleMute flips the microphone and reports whether it is now muted.
func (s *Session) ToggleMute() bool {
	muted := s.deps.Media.ToggleMute()
	s.model.SetMedia(s.deps.Media.State())
	return muted
}

// ToggleVideo flips the camera and reports whether it is now off.
func (s *Session) ToggleVideo() bool {
	off := s.deps.Media.ToggleVideo()
	s.model.SetMedia(s.deps.Media.State())
	return off
}

// View returns the current snapshot.
func (s *Session) View() *view.Snapshot {
	return s.model.Snapshot()
}

// Changes signals whenever the view changes.
func (s *Session) Changes() <-chan struct{} {
	return s.model.Changes()
}

// Traffic reports RTP packets received per peer in the current room.
func (s *Session) Traffic() map[string]uint64 {
	s.mu.Lock()
	r := s.room
	s.mu.Unlock()
	if r == nil || r.peers == nil {
		return nil
	}
	return r.peers.Traffic()
}

// Stats reports the current room's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	r := s.room
	s.mu.Unlock()
	var st Stats
	if r == nil {
		return st
	}
	if r.peers != nil {
		st.Peers = r.peers.Stats()
	}
	if r.signal != nil {
		st.SignalsDropped = r.signal.Dropped()
	}
	return st
}

// Close leaves the room for good. Safe to call more than once.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.leave()
}

func dialNotice(channel string, err error) string {
	if errors.Is(err, errs.ErrAuthRejected) {
		return fmt.Sprintf("%s connection refused: invalid token or room not found.", channel)
	}
	return fmt.Sprintf("%s unavailable: %v", channel, err)
}

func signalReason(info transport.CloseInfo) string {
	switch {
	case info.AuthRejected():
		return "Call connection closed: invalid token or room not found."
	case info.Code == transport.CloseNormal:
		return "Call connection closed."
	default:
		return fmt.Sprintf("Call connection lost (code %d)", info.Code)
	}
}
