package peer

type Role int

const (
	RoleUninitiated Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "uninitiated"
	}
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiating
	// PhaseConnected means negotiation completed. The initiator reaches it
	// once the remote answer is installed, the responder once its own answer
	// is installed and sent. Whether media flows is reported separately
	// through transport state changes.
	PhaseConnected
	PhaseClosed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseFailed
}

type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonUserRequested
	ReasonPeerLeft
	ReasonChannelClosed
	ReasonFailed
)

func (r CloseReason) String() string {
	switch r {
	case ReasonUserRequested:
		return "user_requested"
	case ReasonPeerLeft:
		return "peer_left"
	case ReasonChannelClosed:
		return "channel_closed"
	case ReasonFailed:
		return "failed"
	default:
		return "none"
	}
}
