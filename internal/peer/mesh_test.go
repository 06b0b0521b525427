package peer_test

import (
	"testing"
	"time"

	"github.com/BioHazard786/studyroom/internal/config"
	"github.com/BioHazard786/studyroom/internal/peer"
	"github.com/BioHazard786/studyroom/internal/rtc"
	"github.com/BioHazard786/studyroom/internal/signal"
)

// relay stamps the sender and hands envelopes to the target's manager, like
// the backend's video socket does.
type relay struct {
	from    string
	targets map[string]*peer.Manager
}

func (r *relay) Send(env signal.Envelope) error {
	env.Sender = r.from
	if m, ok := r.targets[env.Target]; ok {
		m.Handle(env)
	}
	return nil
}

func newMesh(t *testing.T, names ...string) map[string]*peer.Manager {
	t.Helper()
	t.Setenv("TURN_SERVER", "")
	cfg, err := config.Load(config.Options{})
	if err != nil {
		t.Fatal(err)
	}
	engine, err := rtc.NewEngine(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	managers := make(map[string]*peer.Manager)
	for _, name := range names {
		managers[name] = peer.New(peer.Config{
			Self:    name,
			Sender:  &relay{from: name, targets: managers},
			NewConn: func() (peer.Conn, error) { return engine.NewConn() },
		})
	}
	for _, m := range managers {
		t.Cleanup(m.Close)
	}
	return managers
}

func waitStable(t *testing.T, m *peer.Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		peers := m.Peers()
		stable := 0
		for _, v := range peers {
			if v.State == peer.Stable {
				stable++
			}
		}
		if stable == want && len(peers) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("peers never settled: %+v", peers)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMeshNegotiatesWithPion(t *testing.T) {
	mesh := newMesh(t, "alice", "bob")

	mesh["alice"].Handle(signal.Envelope{Type: signal.UserJoined, Username: "bob"})

	waitStable(t, mesh["alice"], 1)
	waitStable(t, mesh["bob"], 1)
}

func TestMeshResolvesGlareWithPion(t *testing.T) {
	mesh := newMesh(t, "alice", "bob", "carol")

	// Everyone learns about everyone at once and every pair offers both ways.
	for a := range mesh {
		for b := range mesh {
			if a != b {
				mesh[a].Handle(signal.Envelope{Type: signal.UserJoined, Username: b})
			}
		}
	}

	for _, m := range mesh {
		waitStable(t, m, 2)
	}
	for name, m := range mesh {
		if s := m.Stats(); s.Failures != 0 {
			t.Fatalf("%s failures = %+v", name, s)
		}
	}
}
