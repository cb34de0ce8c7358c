package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/peer"
)

// Factory creates pion-backed peer connections sharing one API.
type Factory struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
}

func (f Factory) NewConn(h peer.ConnHandlers) (peer.Conn, error) {
	api := f.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; the wire protocol has no message
		// for it.
		if c == nil || h.OnLocalCandidate == nil {
			return
		}
		h.OnLocalCandidate(c.ToJSON())
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(media.RemoteTrackFromPion(t))
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if h.OnStateChange != nil {
			h.OnStateChange(s)
		}
	})
	return &conn{pc: pc}, nil
}

type conn struct {
	pc *webrtc.PeerConnection
}

func (c *conn) AddTracks(tracks *media.TrackSet) error {
	for _, t := range tracks.All() {
		if _, err := c.pc.AddTrack(t.Local()); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

func (c *conn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *conn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *conn) AddICECandidate(init webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

func (c *conn) Close() error {
	return c.pc.Close()
}
