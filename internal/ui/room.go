package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/studyroom/internal/peer"
	"github.com/BioHazard786/studyroom/internal/view"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const trafficInterval = time.Second

// Room is the session surface the room screen drives.
type Room interface {
	View() *view.Snapshot
	Changes() <-chan struct{}
	SendChat(content string) error
	ToggleMute() bool
	ToggleVideo() bool
	SwitchRoom(ctx context.Context, roomID string) error
	Traffic() map[string]uint64
}

type changedMsg struct{}

type trafficMsg map[string]uint64

type switchedMsg struct {
	room string
	err  error
}

// RoomModel is the bubbletea model of the room screen.
type RoomModel struct {
	ctx  context.Context
	room Room

	snap    *view.Snapshot
	traffic map[string]uint64
	status  string

	input    textinput.Model
	messages viewport.Model
	width    int
	quitting bool
}

// NewRoomModel builds the screen for room.
func NewRoomModel(ctx context.Context, room Room) *RoomModel {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Type a message, /room <id> to switch"
	in.CharLimit = 2000
	in.Focus()

	m := &RoomModel{
		ctx:      ctx,
		room:     room,
		snap:     room.View(),
		input:    in,
		messages: viewport.New(80, 12),
		width:    80,
	}
	m.refresh()
	return m
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange(), m.pollTraffic())
}

func (m *RoomModel) waitForChange() tea.Cmd {
	changes, done := m.room.Changes(), m.ctx.Done()
	return func() tea.Msg {
		select {
		case <-changes:
			return changedMsg{}
		case <-done:
			return nil
		}
	}
}

func (m *RoomModel) pollTraffic() tea.Cmd {
	return tea.Tick(trafficInterval, func(time.Time) tea.Msg {
		return trafficMsg(m.room.Traffic())
	})
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlT:
			if m.room.ToggleMute() {
				m.status = "Microphone muted"
			} else {
				m.status = "Microphone on"
			}
			m.snap = m.room.View()
			return m, nil
		case tea.KeyCtrlV:
			if m.room.ToggleVideo() {
				m.status = "Camera off"
			} else {
				m.status = "Camera on"
			}
			m.snap = m.room.View()
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.messages, cmd = m.messages.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.messages.Width = max(20, msg.Width-4)
		m.messages.Height = max(3, msg.Height-14-len(m.snap.Peers))
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case changedMsg:
		m.snap = m.room.View()
		m.refresh()
		return m, m.waitForChange()

	case trafficMsg:
		m.traffic = msg
		return m, m.pollTraffic()

	case switchedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Could not switch to room %s: %v", msg.room, msg.err)
		} else {
			m.status = "Switched to room " + msg.room
		}
		m.snap = m.room.View()
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: a /room command or a chat message.
func (m *RoomModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	if fields := strings.Fields(text); fields[0] == "/room" {
		if len(fields) != 2 {
			m.status = "Usage: /room <id>"
			return nil
		}
		id := fields[1]
		m.input.Reset()
		m.status = "Switching to room " + id + "..."
		ctx, room := m.ctx, m.room
		return func() tea.Msg {
			return switchedMsg{room: id, err: room.SwitchRoom(ctx, id)}
		}
	}

	if !m.snap.CanSend() {
		m.status = "Chat is disconnected; message not sent."
		return nil
	}
	if err := m.room.SendChat(text); err != nil {
		m.status = "Send failed: " + err.Error()
		return nil
	}
	m.input.Reset()
	m.status = ""
	return nil
}

func (m *RoomModel) refresh() {
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		if !msg.CreatedAt.IsZero() {
			b.WriteString(MutedStyle.Render(msg.CreatedAt.Local().Format("15:04")) + " ")
		}
		name := AuthorStyle.Render(msg.Username)
		if msg.Username == m.snap.Self {
			name = SelfStyle.Render(msg.Username)
		}
		b.WriteString(name + ": " + msg.Content)
	}
	if len(m.snap.Messages) == 0 {
		b.WriteString(MutedStyle.Render("No messages yet"))
	}
	m.messages.SetContent(b.String())
	m.messages.GotoBottom()
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Room %s", IconRoom, s.RoomID)))
	b.WriteString("  " + statusLabel("chat", s.ChatStatus) + "  " + statusLabel("call", s.SignalStatus))
	b.WriteString("  " + MutedStyle.Render("as "+s.Self) + "\n")
	if s.Notice != "" {
		b.WriteString(WarningStyle.Render(IconWarning+" "+s.Notice) + "\n")
	}

	b.WriteString(PanelStyle.Render(m.messages.View()) + "\n")
	b.WriteString(m.peersView() + "\n")
	b.WriteString(mediaLabel(s) + "\n")

	if m.status != "" {
		b.WriteString(MutedStyle.Render(m.status) + "\n")
	}
	if s.CanSend() {
		b.WriteString(m.input.View() + "\n")
	} else {
		b.WriteString(MutedStyle.Render("> chat disconnected") + "\n")
	}
	b.WriteString(FooterStyle.Render("enter send • ctrl+t mute • ctrl+v video • /room <id> switch • esc quit"))
	return b.String()
}

func (m *RoomModel) peersView() string {
	peers := m.snap.Peers
	if len(peers) == 0 {
		return MutedStyle.Render("No one else is in the call")
	}
	lines := make([]string, 0, len(peers)+1)
	lines = append(lines, BoldStyle.Render(fmt.Sprintf("Peers (%d)", len(peers))))
	for _, p := range peers {
		lines = append(lines, peerLine(p, m.traffic[p.PeerID]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func peerLine(p peer.View, packets uint64) string {
	state := p.State.String()
	switch p.State {
	case peer.Stable:
		state = SuccessStyle.Render(state)
	case peer.Failed:
		state = ErrorStyle.Render(state)
	default:
		state = WarningStyle.Render(state)
	}

	media := "no media"
	if p.Stream != nil && len(p.Stream.Tracks) > 0 {
		kinds := make([]string, 0, len(p.Stream.Tracks))
		for _, t := range p.Stream.Tracks {
			kinds = append(kinds, t.Kind.String())
		}
		media = fmt.Sprintf("stream %s (%s)", p.Stream.ID, strings.Join(kinds, ", "))
	}
	return fmt.Sprintf("  %s %s  %s  %s  %s", IconPeer, p.PeerID, state, MutedStyle.Render(media),
		MutedStyle.Render(fmt.Sprintf("%d pkts", packets)))
}

func statusLabel(name string, st view.Status) string {
	text := name + ": " + string(st)
	switch st {
	case view.Connected:
		return SuccessStyle.Render(text)
	case view.Connecting:
		return WarningStyle.Render(text)
	default:
		return ErrorStyle.Render(text)
	}
}

func mediaLabel(s *view.Snapshot) string {
	if !s.Media.Available {
		return MutedStyle.Render("No local media; receiving only")
	}
	var parts []string
	if s.Media.HasAudio {
		if s.Media.Muted {
			parts = append(parts, IconMicOff+" muted")
		} else {
			parts = append(parts, IconMic+" mic on")
		}
	}
	if s.Media.HasVideo {
		if s.Media.VideoOff {
			parts = append(parts, IconCamOff+" camera off")
		} else {
			parts = append(parts, IconCam+" camera on")
		}
	}
	return strings.Join(parts, "  ")
}

// RunRoom runs the room screen until the user quits or ctx ends.
func RunRoom(ctx context.Context, room Room) error {
	_, err := tea.NewProgram(NewRoomModel(ctx, room), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
