package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

// Observer receives lifecycle notifications. Calls are made from the
// goroutine driving the session.
type Observer interface {
	StatusChanged(text string)
	RemoteTrackAdded(track media.RemoteTrack)
	SessionClosed(reason CloseReason)
}

type Sender interface {
	Send(m signaling.Message) error
}

type Config struct {
	Conns       ConnFactory
	Media       media.Source
	Constraints media.Constraints
	Sender      Sender
	Observer    Observer

	// Post hands an event back to the goroutine that drives the session. It
	// is called from step goroutines, connection callbacks and timers, and
	// must be safe for concurrent use.
	Post func(Event)

	// NegotiationTimeout bounds how long the session may stay in
	// PhaseNegotiating. Zero disables the timer.
	NegotiationTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type stepKind int

const (
	stepNone stepKind = iota
	stepOffer
	stepAnswer
	stepRemoteAnswer
)

func (k stepKind) String() string {
	switch k {
	case stepOffer:
		return "offer"
	case stepAnswer:
		return "answer"
	case stepRemoteAnswer:
		return "remote_answer"
	default:
		return "none"
	}
}

type stepResult struct {
	kind   stepKind
	conn   Conn
	tracks *media.TrackSet
	desc   webrtc.SessionDescription
	err    error
}

// Session is the negotiation state machine for one call with one remote
// participant. It is not safe for concurrent use: every method must be called
// from the single goroutine that also consumes Config.Post.
//
// Asynchronous negotiation steps run on their own goroutine and report back
// through Post. While a step is outstanding, inbound events are queued and
// replayed in arrival order once it completes.
type Session struct {
	cfg Config
	log *slog.Logger

	role   Role
	phase  Phase
	target string
	offer  signaling.Message

	conn       Conn
	local      *media.TrackSet
	remote     []media.RemoteTrack
	remoteSet  bool
	candidates CandidateBuffer

	ctx    context.Context
	cancel context.CancelFunc

	stepID   uint64
	pending  stepKind
	deferred []Event

	timer  *time.Timer
	reason CloseReason
	err    error
}

// NewInitiator returns an idle session that will call target once started.
func NewInitiator(cfg Config, target string) *Session {
	return newSession(cfg, RoleInitiator, target)
}

// NewResponder returns an idle session that will answer offer once started.
// The session is bound to the offer's sender.
func NewResponder(cfg Config, offer signaling.Message) *Session {
	s := newSession(cfg, RoleResponder, offer.Sender)
	s.offer = offer
	return s
}

func newSession(cfg Config, role Role, target string) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		log:    log.With("target", target, "role", role.String()),
		role:   role,
		phase:  PhaseIdle,
		target: target,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) Role() Role { return s.role }
func (s *Session) Phase() Phase { return s.phase }
func (s *Session) Target() string { return s.target }
func (s *Session) CloseReason() CloseReason { return s.reason }
func (s *Session) Err() error { return s.err }
func (s *Session) StepPending() bool { return s.pending != stepNone }
func (s *Session) BufferedCandidates() int { return s.candidates.Len() }

func (s *Session) RemoteTracks() []media.RemoteTrack {
	return append([]media.RemoteTrack(nil), s.remote...)
}

// Start moves an idle session into PhaseNegotiating and launches its first
// negotiation step.
func (s *Session) Start() {
	if s.phase != PhaseIdle {
		return
	}
	s.phase = PhaseNegotiating
	s.cfg.Metrics.Inc(metrics.SessionsStarted)
	if d := s.cfg.NegotiationTimeout; d > 0 {
		post := s.cfg.Post
		s.timer = time.AfterFunc(d, func() { post(NegotiationTimeout{}) })
	}

	h := s.handlers()
	cfg := s.cfg
	switch s.role {
	case RoleInitiator:
		s.begin(stepOffer, func(ctx context.Context) stepResult {
			return createOffer(ctx, cfg, h)
		})
	case RoleResponder:
		desc, err := s.offer.SessionDescription()
		if err != nil {
			s.fail(fmt.Errorf("%w: %w", ErrAnswerCreation, err))
			return
		}
		s.begin(stepAnswer, func(ctx context.Context) stepResult {
			return createAnswer(ctx, cfg, h, desc)
		})
	}
}

// Handle applies one event. Errors describe rejected inbound messages or
// candidates; they never change the session's phase.
func (s *Session) Handle(ev Event) error {
	if d, ok := ev.(stepDone); ok {
		s.complete(d)
		return nil
	}
	if s.phase.Terminal() {
		return ErrSessionClosed
	}

	switch ev := ev.(type) {
	case NegotiationTimeout:
		if s.phase == PhaseNegotiating {
			s.fail(ErrNegotiationTimeout)
		}
		return nil
	case Inbound:
		if ev.Msg.Kind == signaling.KindLeave && ev.Msg.Sender == s.target {
			s.Close(ReasonPeerLeft)
			return nil
		}
	}

	if s.pending != stepNone {
		s.deferred = append(s.deferred, ev)
		return nil
	}
	return s.dispatch(ev)
}

// Close tears the session down. It is a no-op once the session is closed or
// failed.
func (s *Session) Close(reason CloseReason) {
	var status string
	switch reason {
	case ReasonPeerLeft:
		status = fmt.Sprintf("%s left, call ended", s.target)
	case ReasonChannelClosed:
		status = "Connection to relay lost, call ended"
	default:
		status = "Call ended"
	}
	s.terminate(PhaseClosed, reason, status)
}

func (s *Session) handlers() ConnHandlers {
	post := s.cfg.Post
	return ConnHandlers{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) { post(LocalCandidate{Candidate: c}) },
		OnRemoteTrack:    func(t media.RemoteTrack) { post(RemoteTrackAdded{Track: t}) },
		OnStateChange:    func(st webrtc.PeerConnectionState) { post(TransportStateChanged{State: st}) },
	}
}

func (s *Session) begin(kind stepKind, run func(ctx context.Context) stepResult) {
	s.stepID++
	id := s.stepID
	s.pending = kind
	ctx := s.ctx
	post := s.cfg.Post
	go func() {
		res := run(ctx)
		res.kind = kind
		post(stepDone{id: id, res: res})
	}()
}

func (s *Session) complete(d stepDone) {
	if d.id != s.stepID || s.phase.Terminal() {
		s.cfg.Metrics.Inc(metrics.StaleStepResults)
		s.log.Debug("discarding stale negotiation step", "step", d.res.kind.String())
		if d.res.conn != nil && d.res.conn != s.conn {
			_ = d.res.conn.Close()
		}
		return
	}
	s.pending = stepNone

	res := d.res
	if res.err != nil {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		s.fail(res.err)
		return
	}

	switch res.kind {
	case stepOffer:
		s.conn = res.conn
		s.local = res.tracks
		msg, err := signaling.NewOffer(res.desc, s.target)
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrOfferCreation, err))
			return
		}
		s.send(msg)
		s.status("Offer sent, waiting for answer...")
	case stepAnswer:
		s.conn = res.conn
		s.local = res.tracks
		msg, err := signaling.NewAnswer(res.desc, s.target)
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrAnswerCreation, err))
			return
		}
		s.send(msg)
		s.negotiated()
		s.status("Received offer, sent answer")
	case stepRemoteAnswer:
		s.negotiated()
		s.status("Received answer, connection establishing...")
	}
	s.drain()
}

// negotiated records that the remote description is installed and releases
// buffered candidates.
func (s *Session) negotiated() {
	s.remoteSet = true
	s.phase = PhaseConnected
	if s.timer != nil {
		s.timer.Stop()
	}
	for _, err := range s.candidates.Flush(s.conn.AddICECandidate) {
		s.cfg.Metrics.Inc(metrics.CandidateApplyErrors)
		s.log.Warn("dropping buffered candidate", "err", err)
	}
}

func (s *Session) drain() {
	for s.pending == stepNone && len(s.deferred) > 0 && !s.phase.Terminal() {
		ev := s.deferred[0]
		s.deferred[0] = nil
		s.deferred = s.deferred[1:]
		if err := s.dispatch(ev); err != nil {
			s.log.Warn("deferred event rejected", "err", err)
		}
	}
	if len(s.deferred) == 0 {
		s.deferred = nil
	}
}

func (s *Session) dispatch(ev Event) error {
	switch ev := ev.(type) {
	case Inbound:
		return s.handleMessage(ev.Msg)
	case LocalCandidate:
		msg, err := signaling.NewCandidate(ev.Candidate, s.target)
		if err != nil {
			return err
		}
		s.send(msg)
	case RemoteTrackAdded:
		s.remote = append(s.remote, ev.Track)
		s.cfg.Observer.RemoteTrackAdded(ev.Track)
	case TransportStateChanged:
		s.handleTransport(ev.State)
	}
	return nil
}

func (s *Session) handleMessage(msg signaling.Message) error {
	if msg.Kind == signaling.KindOffer && s.role == RoleInitiator {
		return s.reject(fmt.Errorf("%w: offer from %q while initiating", ErrUnexpectedMessage, msg.Sender))
	}
	if msg.Sender != s.target {
		return s.reject(fmt.Errorf("%w: %q, session bound to %q", ErrForeignSender, msg.Sender, s.target))
	}

	switch msg.Kind {
	case signaling.KindOffer:
		return s.reject(fmt.Errorf("%w: repeated offer", ErrUnexpectedMessage))
	case signaling.KindAnswer:
		if s.role != RoleInitiator || s.remoteSet || s.conn == nil {
			return s.reject(fmt.Errorf("%w: answer in %s/%s", ErrUnexpectedMessage, s.role, s.phase))
		}
		desc, err := msg.SessionDescription()
		if err != nil {
			return s.reject(err)
		}
		conn := s.conn
		s.begin(stepRemoteAnswer, func(ctx context.Context) stepResult {
			if err := conn.SetRemoteDescription(desc); err != nil {
				return stepResult{err: fmt.Errorf("%w: %v", ErrRemoteDescription, err)}
			}
			return stepResult{}
		})
	case signaling.KindCandidate:
		c, err := msg.ICECandidate()
		if err != nil {
			return s.reject(err)
		}
		if !s.remoteSet {
			s.candidates.Enqueue(c)
			s.cfg.Metrics.Inc(metrics.CandidatesBuffered)
			return nil
		}
		if err := s.conn.AddICECandidate(c); err != nil {
			s.cfg.Metrics.Inc(metrics.CandidateApplyErrors)
			return fmt.Errorf("%w: %v", ErrCandidateApply, err)
		}
	default:
		s.log.Debug("ignoring message", "kind", msg.Kind, "from", msg.Sender)
	}
	return nil
}

func (s *Session) reject(err error) error {
	s.cfg.Metrics.Inc(metrics.MessagesRejected)
	return err
}

func (s *Session) handleTransport(st webrtc.PeerConnectionState) {
	s.log.Debug("transport state", "state", st.String())
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.cfg.Metrics.Inc(metrics.SessionsConnected)
		s.status("Call connected!")
	case webrtc.PeerConnectionStateDisconnected:
		s.status("Connection interrupted")
	case webrtc.PeerConnectionStateFailed:
		s.fail(ErrTransportFailed)
	}
}

func (s *Session) send(msg signaling.Message) {
	if err := s.cfg.Sender.Send(msg); err != nil {
		s.log.Warn("send failed", "kind", msg.Kind, "err", err)
	}
}

func (s *Session) status(text string) {
	s.cfg.Observer.StatusChanged(text)
}

func (s *Session) fail(err error) {
	s.err = err
	s.cfg.Metrics.Inc(metrics.SessionsFailed)
	s.log.Warn("call failed", "err", err)
	s.terminate(PhaseFailed, ReasonFailed, "Call failed: "+err.Error())
}

func (s *Session) terminate(phase Phase, reason CloseReason, status string) {
	if s.phase.Terminal() {
		return
	}
	s.phase = phase
	s.reason = reason
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.deferred = nil
	s.candidates.Reset()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close peer connection", "err", err)
		}
	}
	s.remote = nil
	// Local tracks are borrowed from the media source and stay alive for the
	// next call.
	s.local = nil

	if phase == PhaseClosed {
		s.cfg.Metrics.Inc(metrics.SessionsClosed)
	}
	s.status(status)
	s.cfg.Observer.SessionClosed(reason)
}

func acquire(ctx context.Context, cfg Config) (*media.TrackSet, error) {
	tracks, err := cfg.Media.Acquire(ctx, cfg.Constraints)
	if err != nil && !errors.Is(err, media.ErrMediaAcquisition) {
		err = fmt.Errorf("%w: %w", media.ErrMediaAcquisition, err)
	}
	return tracks, err
}

func createOffer(ctx context.Context, cfg Config, h ConnHandlers) stepResult {
	tracks, err := acquire(ctx, cfg)
	if err != nil {
		return stepResult{err: fmt.Errorf("%w: %w", ErrOfferCreation, err)}
	}
	if err := ctx.Err(); err != nil {
		return stepResult{err: err}
	}
	conn, err := cfg.Conns.NewConn(h)
	if err != nil {
		return stepResult{err: fmt.Errorf("%w: new connection: %v", ErrOfferCreation, err)}
	}
	res := stepResult{conn: conn, tracks: tracks}
	if err := conn.AddTracks(tracks); err != nil {
		res.err = fmt.Errorf("%w: add tracks: %v", ErrOfferCreation, err)
		return res
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		res.err = fmt.Errorf("%w: %v", ErrOfferCreation, err)
		return res
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		res.err = fmt.Errorf("%w: set local description: %v", ErrOfferCreation, err)
		return res
	}
	res.desc = offer
	return res
}

func createAnswer(ctx context.Context, cfg Config, h ConnHandlers, offer webrtc.SessionDescription) stepResult {
	tracks, err := acquire(ctx, cfg)
	if err != nil {
		return stepResult{err: fmt.Errorf("%w: %w", ErrAnswerCreation, err)}
	}
	if err := ctx.Err(); err != nil {
		return stepResult{err: err}
	}
	conn, err := cfg.Conns.NewConn(h)
	if err != nil {
		return stepResult{err: fmt.Errorf("%w: new connection: %v", ErrAnswerCreation, err)}
	}
	res := stepResult{conn: conn, tracks: tracks}
	if err := conn.AddTracks(tracks); err != nil {
		res.err = fmt.Errorf("%w: add tracks: %v", ErrAnswerCreation, err)
		return res
	}
	if err := conn.SetRemoteDescription(offer); err != nil {
		res.err = fmt.Errorf("%w: set remote description: %v", ErrAnswerCreation, err)
		return res
	}
	answer, err := conn.CreateAnswer()
	if err != nil {
		res.err = fmt.Errorf("%w: %v", ErrAnswerCreation, err)
		return res
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		res.err = fmt.Errorf("%w: set local description: %v", ErrAnswerCreation, err)
		return res
	}
	res.desc = answer
	return res
}
