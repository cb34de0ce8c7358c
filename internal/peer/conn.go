package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

// Conn is the peer-connection primitive a Session drives. Implementations
// must be safe to Close concurrently with an in-flight negotiation call.
type Conn interface {
	AddTracks(tracks *media.TrackSet) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// ConnHandlers receive callbacks from the connection. They may be invoked from
// any goroutine.
type ConnHandlers struct {
	OnLocalCandidate func(webrtc.ICECandidateInit)
	OnRemoteTrack    func(media.RemoteTrack)
	OnStateChange    func(webrtc.PeerConnectionState)
}

type ConnFactory interface {
	NewConn(h ConnHandlers) (Conn, error)
}

type ConnFactoryFunc func(h ConnHandlers) (Conn, error)

func (f ConnFactoryFunc) NewConn(h ConnHandlers) (Conn, error) { return f(h) }
