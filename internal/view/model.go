// Package view is the read-only model the room screen renders: connection
// status, the message list, peers and local media. Every update publishes a
// fresh Snapshot; a Snapshot is never mutated after it is published.
package view

import (
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/media"
	"github.com/BioHazard786/studyroom/internal/peer"
)

// Status is the state of one transport as shown to the user.
type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
)

// Snapshot is one consistent view of the room.
type Snapshot struct {
	RoomID       string
	Self         string
	ChatStatus   Status
	SignalStatus Status
	// Notice is the latest user-facing message (close reasons, chat errors).
	Notice   string
	Messages []chat.Message
	Peers    []peer.View
	Media    media.State
}

// CanSend reports whether the chat input should be enabled.
func (s *Snapshot) CanSend() bool {
	return s.ChatStatus == Connected
}

// Model holds the current Snapshot.
type Model struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	changes chan struct{}
}

// NewModel returns a model for room.
func NewModel(roomID, self string) *Model {
	m := &Model{changes: make(chan struct{}, 1)}
	m.current.Store(&Snapshot{
		RoomID:       roomID,
		Self:         self,
		ChatStatus:   Disconnected,
		SignalStatus: Disconnected,
	})
	return m
}

// Snapshot returns the current snapshot.
func (m *Model) Snapshot() *Snapshot {
	return m.current.Load()
}

// Changes signals after updates. Bursts coalesce into one signal.
func (m *Model) Changes() <-chan struct{} {
	return m.changes
}

// Update copies the current snapshot, applies fn to the copy and publishes
// it. fn must replace slices rather than modify them in place.
func (m *Model) Update(fn func(s *Snapshot)) {
	m.mu.Lock()
	next := *m.current.Load()
	fn(&next)
	m.current.Store(&next)
	m.mu.Unlock()

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// SetHistory replaces the message list with a history batch. Messages that
// arrived live before the batch stay after it.
func (m *Model) SetHistory(history []chat.Message) {
	m.Update(func(s *Snapshot) {
		seen := make(map[int64]bool, len(history))
		msgs := make([]chat.Message, 0, len(history)+len(s.Messages))
		for _, msg := range history {
			seen[msg.ID] = true
			msgs = append(msgs, msg)
		}
		for _, msg := range s.Messages {
			if !seen[msg.ID] {
				msgs = append(msgs, msg)
			}
		}
		s.Messages = msgs
	})
}

// AppendMessage adds a live message in receipt order.
func (m *Model) AppendMessage(msg chat.Message) {
	m.Update(func(s *Snapshot) {
		msgs := make([]chat.Message, len(s.Messages), len(s.Messages)+1)
		copy(msgs, s.Messages)
		s.Messages = append(msgs, msg)
	})
}

// SetPeers publishes a peer snapshot from the peer manager.
func (m *Model) SetPeers(peers []peer.View) {
	m.Update(func(s *Snapshot) { s.Peers = peers })
}

// SetMedia publishes local media flags.
func (m *Model) SetMedia(st media.State) {
	m.Update(func(s *Snapshot) { s.Media = st })
}

// SetChat sets the chat status and, when non-empty, the notice.
func (m *Model) SetChat(status Status, notice string) {
	m.Update(func(s *Snapshot) {
		s.ChatStatus = status
		if notice != "" {
			s.Notice = notice
		}
	})
}

// SetSignal sets the call status and, when non-empty, the notice.
func (m *Model) SetSignal(status Status, notice string) {
	m.Update(func(s *Snapshot) {
		s.SignalStatus = status
		if notice != "" {
			s.Notice = notice
		}
	})
}

// SetNotice replaces the notice.
func (m *Model) SetNotice(notice string) {
	m.Update(func(s *Snapshot) { s.Notice = notice })
}
