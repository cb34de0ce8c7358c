package relay

import "errors"

var (
	// ErrParticipantAlreadyConnected is returned when a username that already
	// has a live connection logs in again. The new connection is refused; the
	// existing one is kept.
	ErrParticipantAlreadyConnected = errors.New("participant already connected")
	ErrTooManyParticipants         = errors.New("too many participants")
	ErrHubClosed                   = errors.New("relay shutting down")
)
