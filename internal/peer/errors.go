package peer

import "errors"

var (
	ErrOfferCreation     = errors.New("offer creation failed")
	ErrAnswerCreation    = errors.New("answer creation failed")
	ErrRemoteDescription = errors.New("remote description rejected")
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrForeignSender is returned for inbound messages whose sender is not
	// the participant the session is bound to.
	ErrForeignSender      = errors.New("message from foreign sender")
	ErrCandidateApply     = errors.New("candidate rejected")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrTransportFailed    = errors.New("transport failed")
	ErrSessionClosed      = errors.New("session closed")
)
