package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/studyroom/internal/api"
	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/media"
	"github.com/BioHazard786/studyroom/internal/peer"
	"github.com/BioHazard786/studyroom/internal/view"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
)

type fakeRoom struct {
	mu       sync.Mutex
	snap     view.Snapshot
	sent     []string
	switched []string
	sendErr  error
	changes  chan struct{}
}

func newFakeRoom(status view.Status) *fakeRoom {
	return &fakeRoom{
		snap: view.Snapshot{
			RoomID:       "12",
			Self:         "alice",
			ChatStatus:   status,
			SignalStatus: view.Connected,
			Media:        media.State{Available: true, HasAudio: true, HasVideo: true},
		},
		changes: make(chan struct{}, 1),
	}
}

func (r *fakeRoom) View() *view.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	return &s
}

func (r *fakeRoom) Changes() <-chan struct{} { return r.changes }

func (r *fakeRoom) SendChat(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, content)
	return nil
}

func (r *fakeRoom) ToggleMute() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Media.Muted = !r.snap.Media.Muted
	return r.snap.Media.Muted
}

func (r *fakeRoom) ToggleVideo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Media.VideoOff = !r.snap.Media.VideoOff
	return r.snap.Media.VideoOff
}

func (r *fakeRoom) SwitchRoom(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switched = append(r.switched, id)
	r.snap.RoomID = id
	return nil
}

func (r *fakeRoom) Traffic() map[string]uint64 { return nil }

func key(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func TestEnterSendsChat(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi")})
	m.Update(key(tea.KeyEnter))

	if len(r.sent) != 1 || r.sent[0] != "hi" {
		t.Fatalf("sent = %q", r.sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("input not cleared: %q", m.input.Value())
	}
}

func TestBlankInputIsIgnored(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)
	m.input.SetValue("   ")
	m.Update(key(tea.KeyEnter))
	if len(r.sent) != 0 {
		t.Fatalf("sent = %q", r.sent)
	}
}

func TestSendDisabledWhileChatDisconnected(t *testing.T) {
	r := newFakeRoom(view.Disconnected)
	m := NewRoomModel(context.Background(), r)
	m.input.SetValue("hello")
	m.Update(key(tea.KeyEnter))

	if len(r.sent) != 0 {
		t.Fatalf("sent while disconnected: %q", r.sent)
	}
	if m.input.Value() != "hello" {
		t.Fatal("input should be kept")
	}
	if !strings.Contains(m.View(), "chat disconnected") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestSendErrorIsShown(t *testing.T) {
	r := newFakeRoom(view.Connected)
	r.sendErr = errors.New("boom")
	m := NewRoomModel(context.Background(), r)
	m.input.SetValue("hello")
	m.Update(key(tea.KeyEnter))
	if !strings.Contains(m.status, "boom") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestRoomCommandSwitches(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)
	m.input.SetValue("/room 7")

	_, cmd := m.Update(key(tea.KeyEnter))
	if cmd == nil {
		t.Fatal("expected a switch command")
	}
	m.Update(cmd())

	if len(r.switched) != 1 || r.switched[0] != "7" {
		t.Fatalf("switched = %q", r.switched)
	}
	if len(r.sent) != 0 {
		t.Fatalf("command was sent as chat: %q", r.sent)
	}
	if m.snap.RoomID != "7" || !strings.Contains(m.View(), "Room 7") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestRoomCommandUsage(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)
	m.input.SetValue("/room")
	if _, cmd := m.Update(key(tea.KeyEnter)); cmd != nil {
		t.Fatal("usage error should not switch")
	}
	if m.status != "Usage: /room <id>" {
		t.Fatalf("status = %q", m.status)
	}
}

func TestToggleKeys(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)

	m.Update(key(tea.KeyCtrlT))
	m.Update(key(tea.KeyCtrlV))

	out := m.View()
	if !strings.Contains(out, "muted") || !strings.Contains(out, "camera off") {
		t.Fatalf("view = %s", out)
	}
	m.Update(key(tea.KeyCtrlT))
	if !strings.Contains(m.View(), "mic on") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		m := NewRoomModel(context.Background(), newFakeRoom(view.Connected))
		_, cmd := m.Update(key(k))
		if cmd == nil {
			t.Fatalf("%v: no command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%v: expected quit", k)
		}
	}
}

func TestChangesRefreshView(t *testing.T) {
	r := newFakeRoom(view.Connected)
	m := NewRoomModel(context.Background(), r)

	r.mu.Lock()
	r.snap.Messages = []chat.Message{{ID: 1, Username: "bob", Content: "hello there", CreatedAt: chat.Timestamp{Time: time.Now()}}}
	r.snap.Peers = []peer.View{{
		PeerID: "bob",
		State:  peer.Stable,
		Stream: &peer.RemoteStream{ID: "s1", Tracks: []peer.TrackInfo{{ID: "a", Kind: webrtc.RTPCodecTypeAudio}}},
	}}
	r.snap.Notice = "Chat error: slow down"
	r.mu.Unlock()
	r.changes <- struct{}{}

	_, cmd := m.Update(m.waitForChange()())
	if cmd == nil {
		t.Fatal("expected to keep waiting for changes")
	}
	m.Update(trafficMsg{"bob": 42})

	out := m.View()
	for _, want := range []string{"hello there", "bob", "stable", "stream s1 (audio)", "42 pkts", "slow down"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q:\n%s", want, out)
		}
	}
}

func TestReceiveOnlyLabel(t *testing.T) {
	r := newFakeRoom(view.Connected)
	r.snap.Media = media.State{}
	m := NewRoomModel(context.Background(), r)
	if !strings.Contains(m.View(), "receiving only") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestRoomsTable(t *testing.T) {
	out := RoomsTable([]api.Room{
		{ID: 1, Name: "Algebra", Subject: "Math"},
		{ID: 2, Name: "Essays", Subject: "English", Description: "weekly drafts"},
	})
	for _, want := range []string{"Algebra", "Math", "Essays", "weekly drafts", "Subject"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if RoomsTable(nil) == "" {
		t.Fatal("empty listing should render a placeholder")
	}
}
