package webrtcpeer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/peer"
)

func TestApplyNetworkSettings_Errors(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.WebRTC{
		NAT1To1IPs:             []string{"203.0.113.1"},
		NAT1To1IPCandidateType: "relay",
	})
	if err == nil {
		t.Fatalf("expected error for unknown candidate type")
	}

	err = ApplyNetworkSettings(&se, config.WebRTC{UDPPortRange: &config.UDPPortRange{Min: 6000, Max: 5000}})
	if err == nil {
		t.Fatalf("expected error for inverted port range")
	}
}

func TestNewAPI(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := NewAPI(config.WebRTC{
		UDPPortRange: &config.UDPPortRange{Min: 50000, Max: 50100},
		NAT1To1IPs:   []string{"203.0.113.1"},
		UDPListenIP:  net.IPv4zero,
	}, log)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	_ = pc.Close()
}

func TestLoggerFactory(t *testing.T) {
	f := NewLoggerFactory(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l := f.NewLogger("ice")
	l.Tracef("trace %d", 1)
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 1)
	l.Warn("warn")
	l.Errorf("error %s", "x")
}

type side struct {
	conn   peer.Conn
	cands  chan webrtc.ICECandidateInit
	states chan webrtc.PeerConnectionState
	tracks chan media.RemoteTrack
}

func newSide(t *testing.T, f Factory) *side {
	t.Helper()
	s := &side{
		cands:  make(chan webrtc.ICECandidateInit, 64),
		states: make(chan webrtc.PeerConnectionState, 16),
		tracks: make(chan media.RemoteTrack, 4),
	}
	conn, err := f.NewConn(peer.ConnHandlers{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) { s.cands <- c },
		OnRemoteTrack:    func(tr media.RemoteTrack) { s.tracks <- tr },
		OnStateChange:    func(st webrtc.PeerConnectionState) { s.states <- st },
	})
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	s.conn = conn
	return s
}

func (s *side) waitConnected(t *testing.T) {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case st := <-s.states:
			switch st {
			case webrtc.PeerConnectionStateConnected:
				return
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				t.Fatalf("state=%s, want connected", st)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for connected")
		}
	}
}

// newVNetFactories returns two factories whose peers talk over an in-process
// virtual network, so the test does not depend on host interfaces.
func newVNetFactories(t *testing.T) (Factory, Factory) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	var factories []Factory
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			t.Fatalf("new net %s: %v", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net %s: %v", ip, err)
		}
		api, err := NewAPI(config.WebRTC{}, nil, func(se *webrtc.SettingEngine) {
			se.SetNet(n)
		})
		if err != nil {
			t.Fatalf("NewAPI: %v", err)
		}
		factories = append(factories, Factory{API: api})
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return factories[0], factories[1]
}

func TestFactory_ConnectsTwoPeers(t *testing.T) {
	callerFactory, calleeFactory := newVNetFactories(t)
	caller := newSide(t, callerFactory)
	callee := newSide(t, calleeFactory)

	tracks, err := media.SampleSource{StreamID: "caller"}.Acquire(context.Background(), media.Constraints{Audio: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := caller.conn.AddTracks(tracks); err != nil {
		t.Fatalf("AddTracks: %v", err)
	}

	offer, err := caller.conn.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := caller.conn.SetLocalDescription(offer); err != nil {
		t.Fatalf("caller SetLocalDescription: %v", err)
	}
	if err := callee.conn.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription: %v", err)
	}
	answer, err := callee.conn.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := callee.conn.SetLocalDescription(answer); err != nil {
		t.Fatalf("callee SetLocalDescription: %v", err)
	}
	if err := caller.conn.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription: %v", err)
	}

	// Both remote descriptions are installed, so candidates can be applied
	// as they arrive.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forward := func(from, to *side) {
		for {
			select {
			case c := <-from.cands:
				_ = to.conn.AddICECandidate(c)
			case <-ctx.Done():
				return
			}
		}
	}
	go forward(caller, callee)
	go forward(callee, caller)

	caller.waitConnected(t)
	callee.waitConnected(t)

	audio := tracks.AudioTracks()[0]
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = audio.WriteSample(pionmedia.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	select {
	case tr := <-callee.tracks:
		if tr.Kind != media.KindAudio || tr.StreamID != "caller" {
			t.Fatalf("remote track=%+v, want audio from stream caller", tr)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("callee never saw the caller's track")
	}
}
