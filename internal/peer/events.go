package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

// Event is an input to Session.Handle.
type Event interface {
	event()
}

// Inbound carries a decoded message from the relay.
type Inbound struct {
	Msg signaling.Message
}

// LocalCandidate is a candidate gathered by the local connection.
type LocalCandidate struct {
	Candidate webrtc.ICECandidateInit
}

type RemoteTrackAdded struct {
	Track media.RemoteTrack
}

type TransportStateChanged struct {
	State webrtc.PeerConnectionState
}

type NegotiationTimeout struct{}

type stepDone struct {
	id  uint64
	res stepResult
}

func (Inbound) event()               {}
func (LocalCandidate) event()        {}
func (RemoteTrackAdded) event()      {}
func (TransportStateChanged) event() {}
func (NegotiationTimeout) event()    {}
func (stepDone) event()              {}
