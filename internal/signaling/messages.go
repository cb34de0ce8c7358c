package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Kind is the envelope discriminator carried in the "type" field.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"

	// KindUnknown is produced by Decode for any type string it does not
	// recognise. It is never encoded.
	KindUnknown Kind = "unknown"
)

func (k Kind) known() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindJoin, KindLeave:
		return true
	default:
		return false
	}
}

// carriesPayload reports whether the kind requires a structured payload.
func (k Kind) carriesPayload() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMalformedPayload  = errors.New("malformed payload")
)

// DecodeError describes why an inbound frame could not be turned into a
// Message. It wraps ErrMalformedEnvelope or ErrMalformedPayload.
type DecodeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("decode %s: %v: %s", e.Kind, e.Err, e.Reason)
	}
	return fmt.Sprintf("decode: %v: %s", e.Err, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func envelopeError(kind Kind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: ErrMalformedEnvelope}
}

func payloadError(kind Kind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: ErrMalformedPayload}
}

// Message is one decoded signaling envelope. Payload holds the raw payload
// string exactly as carried on the wire; for offer/answer/candidate it has
// already been validated by Decode (or was produced by one of the New*
// constructors).
type Message struct {
	Kind    Kind
	Payload string
	Sender  string
	Target  string
}

type envelope struct {
	Type     *string `json:"type"`
	Payload  *string `json:"payload"`
	Username *string `json:"username"`
	Target   *string `json:"target,omitempty"`
}

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SDPFromPion converts a pion description to its wire shape.
func SDPFromPion(desc webrtc.SessionDescription) ([]byte, error) {
	return json.Marshal(sdp{Type: desc.Type.String(), SDP: desc.SDP})
}

func (s sdp) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type candidate struct {
	Candidate        *string `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateFromPion converts a pion candidate to its wire shape.
func CandidateFromPion(init webrtc.ICECandidateInit) ([]byte, error) {
	c := init.Candidate
	return json.Marshal(candidate{
		Candidate:        &c,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (c candidate) toPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        *c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// NewOffer builds an offer message addressed to target.
func NewOffer(desc webrtc.SessionDescription, target string) (Message, error) {
	return newDescription(KindOffer, desc, target)
}

// NewAnswer builds an answer message addressed to target.
func NewAnswer(desc webrtc.SessionDescription, target string) (Message, error) {
	return newDescription(KindAnswer, desc, target)
}

func newDescription(kind Kind, desc webrtc.SessionDescription, target string) (Message, error) {
	if desc.Type.String() != string(kind) {
		return Message{}, fmt.Errorf("%s message with sdp type %q", kind, desc.Type.String())
	}
	b, err := SDPFromPion(desc)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Payload: string(b), Target: target}, nil
}

// NewCandidate builds a candidate message addressed to target.
func NewCandidate(init webrtc.ICECandidateInit, target string) (Message, error) {
	b, err := CandidateFromPion(init)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindCandidate, Payload: string(b), Target: target}, nil
}

// SessionDescription parses the payload of an offer or answer.
func (m Message) SessionDescription() (webrtc.SessionDescription, error) {
	if m.Kind != KindOffer && m.Kind != KindAnswer {
		return webrtc.SessionDescription{}, payloadError(m.Kind, "not a session description message")
	}
	var s sdp
	if err := decodeStrict([]byte(m.Payload), &s); err != nil {
		return webrtc.SessionDescription{}, payloadError(m.Kind, "%v", err)
	}
	if s.Type != string(m.Kind) {
		return webrtc.SessionDescription{}, payloadError(m.Kind, "sdp type %q", s.Type)
	}
	if s.SDP == "" {
		return webrtc.SessionDescription{}, payloadError(m.Kind, "empty sdp")
	}
	desc, err := s.toPion()
	if err != nil {
		return webrtc.SessionDescription{}, payloadError(m.Kind, "%v", err)
	}
	return desc, nil
}

// ICECandidate parses the payload of a candidate message.
func (m Message) ICECandidate() (webrtc.ICECandidateInit, error) {
	if m.Kind != KindCandidate {
		return webrtc.ICECandidateInit{}, payloadError(m.Kind, "not a candidate message")
	}
	var c candidate
	if err := decodeStrict([]byte(m.Payload), &c); err != nil {
		return webrtc.ICECandidateInit{}, payloadError(m.Kind, "%v", err)
	}
	if c.Candidate == nil {
		return webrtc.ICECandidateInit{}, payloadError(m.Kind, "missing candidate")
	}
	return c.toPion(), nil
}

// Encode serialises m to a JSON envelope. Sender is written as "username";
// an empty Target is omitted.
func Encode(m Message) ([]byte, error) {
	if !m.Kind.known() {
		return nil, fmt.Errorf("encode: unsupported kind %q", m.Kind)
	}
	kind := string(m.Kind)
	env := envelope{
		Type:     &kind,
		Payload:  &m.Payload,
		Username: &m.Sender,
	}
	if m.Target != "" {
		env.Target = &m.Target
	}
	return json.Marshal(env)
}

// Decode parses one inbound frame. Unrecognised type strings decode to
// KindUnknown without error; structural problems return a *DecodeError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, envelopeError("", "%v", err)
	}
	if env.Type == nil || *env.Type == "" {
		return Message{}, envelopeError("", "missing type")
	}
	kind := Kind(*env.Type)
	if !kind.known() {
		kind = KindUnknown
	}
	if env.Username == nil {
		return Message{}, envelopeError(kind, "missing username")
	}

	m := Message{Kind: kind, Sender: *env.Username}
	if env.Target != nil {
		m.Target = *env.Target
	}
	if env.Payload != nil {
		m.Payload = *env.Payload
	}

	if !kind.carriesPayload() {
		return m, nil
	}
	if env.Payload == nil {
		return Message{}, envelopeError(kind, "missing payload")
	}
	switch kind {
	case KindOffer, KindAnswer:
		if _, err := m.SessionDescription(); err != nil {
			return Message{}, err
		}
	case KindCandidate:
		if _, err := m.ICECandidate(); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
