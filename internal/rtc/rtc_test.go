package rtc

import (
	"net"
	"testing"

	"github.com/BioHazard786/studyroom/internal/config"
	"github.com/pion/webrtc/v4"
)

func testConfig(t *testing.T, opts config.Options) *config.Config {
	t.Helper()
	t.Setenv("TURN_SERVER", "")
	t.Setenv("STUN_SERVER", "")
	cfg, err := config.Load(opts)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestICEConfiguration(t *testing.T) {
	cfg := testConfig(t, config.Options{})
	ice := ICEConfiguration(cfg)
	if len(ice.ICEServers) != 1 || ice.ICEServers[0].URLs[0] != config.DefaultSTUN {
		t.Fatalf("servers = %+v", ice.ICEServers)
	}
	if ice.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Fatalf("policy = %v", ice.ICETransportPolicy)
	}

	relay := ICEConfiguration(testConfig(t, config.Options{TURNServer: "turn.example.com", TURNUser: "u", TURNPass: "p", ForceRelay: true}))
	if len(relay.ICEServers) != 2 || relay.ICEServers[1].Username != "u" {
		t.Fatalf("servers = %+v", relay.ICEServers)
	}
	if relay.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("policy = %v", relay.ICETransportPolicy)
	}
}

func TestTunnelHeuristics(t *testing.T) {
	for name, want := range map[string]bool{"wg0": true, "tun0": true, "CloudflareWARP": true, "eth0": false, "wlan0": false} {
		if got := tunnelName(name); got != want {
			t.Errorf("tunnelName(%q) = %v", name, got)
		}
	}
	if !inCGNAT(&net.IPNet{IP: net.ParseIP("100.100.1.1")}) || inCGNAT(&net.IPNet{IP: net.ParseIP("192.168.1.1")}) {
		t.Fatal("CGNAT detection wrong")
	}
}

func TestOfferAnswer(t *testing.T) {
	engine, err := NewEngine(testConfig(t, config.Options{}), nil)
	if err != nil {
		t.Fatal(err)
	}

	a, err := engine.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := engine.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatal(err)
	}
	if err := a.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatal(err)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	if a.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("offerer state = %v", a.SignalingState())
	}

	if b.HasRemoteDescription() {
		t.Fatal("no remote description yet")
	}
	if err := b.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}
	answer, err := b.CreateAnswer()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	if err := a.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}

	if a.SignalingState() != webrtc.SignalingStateStable || b.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("states = %v / %v", a.SignalingState(), b.SignalingState())
	}
	if !a.HasRemoteDescription() || !b.HasRemoteDescription() {
		t.Fatal("remote descriptions missing")
	}
}
