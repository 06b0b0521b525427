package view

import (
	"testing"
	"time"

	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/peer"
)

func TestHistoryThenLiveOrder(t *testing.T) {
	m := NewModel("1", "alice")
	m.SetHistory([]chat.Message{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}})

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.AppendMessage(chat.Message{ID: 1, Content: "hi", Username: "bob", CreatedAt: chat.Timestamp{Time: ts}})

	msgs := m.Snapshot().Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	last := msgs[2]
	if last.Content != "hi" || last.Username != "bob" || !last.CreatedAt.Equal(ts) {
		t.Fatalf("live message = %+v", last)
	}
}

func TestLiveBeforeHistoryStaysAfterBatch(t *testing.T) {
	m := NewModel("1", "alice")
	m.AppendMessage(chat.Message{ID: 9, Content: "live"})
	m.AppendMessage(chat.Message{ID: 2, Content: "dup"})
	m.SetHistory([]chat.Message{{ID: 1, Content: "old"}, {ID: 2, Content: "dup"}})

	msgs := m.Snapshot().Messages
	if len(msgs) != 3 || msgs[0].ID != 1 || msgs[1].ID != 2 || msgs[2].ID != 9 {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSnapshotsAreNotMutated(t *testing.T) {
	m := NewModel("1", "alice")
	m.AppendMessage(chat.Message{ID: 1})
	before := m.Snapshot()

	m.AppendMessage(chat.Message{ID: 2})
	m.SetPeers([]peer.View{{PeerID: "bob"}})
	m.SetChat(Connected, "")

	if len(before.Messages) != 1 || before.Peers != nil || before.ChatStatus != Disconnected {
		t.Fatalf("published snapshot changed: %+v", before)
	}
	after := m.Snapshot()
	if len(after.Messages) != 2 || len(after.Peers) != 1 || !after.CanSend() {
		t.Fatalf("snapshot = %+v", after)
	}
}

func TestNotices(t *testing.T) {
	m := NewModel("1", "alice")
	m.SetChat(Disconnected, "Chat connection lost (code 1006)")
	m.SetSignal(Connected, "")

	s := m.Snapshot()
	if s.Notice != "Chat connection lost (code 1006)" || s.CanSend() || s.SignalStatus != Connected {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestChangesCoalesce(t *testing.T) {
	m := NewModel("1", "alice")
	for i := 0; i < 5; i++ {
		m.SetNotice("x")
	}
	select {
	case <-m.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-m.Changes():
		t.Fatal("bursts should coalesce")
	default:
	}
}
