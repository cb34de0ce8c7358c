// Package call runs the participant side of a two-party call: it owns at most
// one peer.Session at a time and serialises every input to it on a single
// event loop.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

var (
	ErrAlreadyInSession = errors.New("already in session")
	ErrInvalidTarget    = errors.New("invalid call target")
	ErrChannelClosed    = errors.New("message channel closed")
	ErrNoLocalMedia     = errors.New("no local media")
	ErrStopped          = errors.New("call manager stopped")
)

type Observer = peer.Observer

type Config struct {
	// Self is the local participant identity.
	Self string

	Sender      peer.Sender
	Conns       peer.ConnFactory
	Media       media.Source
	Constraints media.Constraints
	Observer    Observer

	NegotiationTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Snapshot describes the current session as seen by the event loop.
type Snapshot struct {
	Phase  peer.Phase
	Role   peer.Role
	Target string
	Reason peer.CloseReason
}

type startCallReq struct {
	target string
	reply  chan error
}

type endCallReq struct {
	done chan struct{}
}

type inboundReq struct {
	data []byte
}

type channelClosedReq struct {
	err error
}

type toggleReq struct {
	kind  media.Kind
	reply chan toggleResult
}

type toggleResult struct {
	enabled bool
	label   string
	err     error
}

type snapshotReq struct {
	reply chan Snapshot
}

type sessionEvent struct {
	sess *peer.Session
	ev   peer.Event
}

type Manager struct {
	cfg   Config
	log   *slog.Logger
	media *media.Cached

	events chan any
	done   chan struct{}

	// Owned by the loop goroutine.
	session       *peer.Session
	channelClosed bool
}

func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		log:    log.With("self", cfg.Self),
		media:  media.NewCached(cfg.Media),
		events: make(chan any, 256),
		done:   make(chan struct{}),
	}
}

// Run processes events until ctx is done. Any active session is ended when
// Run returns.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			if m.active() {
				m.session.Close(peer.ReasonUserRequested)
			}
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) post(ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// StartCall places a call to target.
func (m *Manager) StartCall(ctx context.Context, target string) error {
	reply := make(chan error, 1)
	if !m.post(startCallReq{target: target, reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// EndCall ends the active session, if any. It returns once the session is
// closed.
func (m *Manager) EndCall() {
	done := make(chan struct{})
	if !m.post(endCallReq{done: done}) {
		return
	}
	select {
	case <-done:
	case <-m.done:
	}
}

// HandleInbound queues one raw frame from the message channel.
func (m *Manager) HandleInbound(data []byte) {
	m.post(inboundReq{data: data})
}

// ChannelClosed reports that the message channel is gone. The active session
// is closed and later calls are refused.
func (m *Manager) ChannelClosed(err error) {
	m.post(channelClosedReq{err: err})
}

func (m *Manager) ToggleLocalAudio() (enabled bool, label string, err error) {
	return m.toggle(media.KindAudio)
}

func (m *Manager) ToggleLocalVideo() (enabled bool, label string, err error) {
	return m.toggle(media.KindVideo)
}

func (m *Manager) toggle(kind media.Kind) (bool, string, error) {
	reply := make(chan toggleResult, 1)
	if !m.post(toggleReq{kind: kind, reply: reply}) {
		return false, "", ErrStopped
	}
	select {
	case r := <-reply:
		return r.enabled, r.label, r.err
	case <-m.done:
		return false, "", ErrStopped
	}
}

func (m *Manager) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !m.post(snapshotReq{reply: reply}) {
		return Snapshot{Phase: peer.PhaseClosed}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{Phase: peer.PhaseClosed}
	}
}

func (m *Manager) active() bool {
	return m.session != nil && !m.session.Phase().Terminal()
}

func (m *Manager) handle(ev any) {
	switch ev := ev.(type) {
	case startCallReq:
		ev.reply <- m.startCall(ev.target)
	case endCallReq:
		if m.session != nil {
			m.session.Close(peer.ReasonUserRequested)
		}
		close(ev.done)
	case inboundReq:
		m.handleInbound(ev.data)
	case channelClosedReq:
		if !m.channelClosed {
			m.log.Warn("message channel closed", "err", ev.err)
		}
		m.channelClosed = true
		if m.active() {
			m.session.Close(peer.ReasonChannelClosed)
		}
	case toggleReq:
		ev.reply <- m.toggleTracks(ev.kind)
	case snapshotReq:
		ev.reply <- m.snapshot()
	case sessionEvent:
		// Events for a replaced session still go to it so it can release
		// the results of steps that finished after it closed.
		if err := ev.sess.Handle(ev.ev); err != nil && !errors.Is(err, peer.ErrSessionClosed) {
			m.log.Warn("session event rejected", "err", err)
		}
	}
}

func (m *Manager) startCall(target string) error {
	if m.channelClosed {
		return ErrChannelClosed
	}
	if target == "" || target == m.cfg.Self {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	if m.active() {
		return fmt.Errorf("%w: with %q", ErrAlreadyInSession, m.session.Target())
	}
	log := m.log.With("session_id", uuid.NewString())
	log.Info("starting call", "target", target)
	var s *peer.Session
	s = peer.NewInitiator(m.peerConfig(log, func(ev peer.Event) {
		m.post(sessionEvent{sess: s, ev: ev})
	}), target)
	m.session = s
	s.Start()
	return nil
}

func (m *Manager) accept(offer signaling.Message) {
	log := m.log.With("session_id", uuid.NewString())
	log.Info("accepting call", "from", offer.Sender)
	var s *peer.Session
	s = peer.NewResponder(m.peerConfig(log, func(ev peer.Event) {
		m.post(sessionEvent{sess: s, ev: ev})
	}), offer)
	m.session = s
	s.Start()
}

func (m *Manager) peerConfig(log *slog.Logger, post func(peer.Event)) peer.Config {
	return peer.Config{
		Conns:              m.cfg.Conns,
		Media:              m.media,
		Constraints:        m.cfg.Constraints,
		Sender:             m.cfg.Sender,
		Observer:           m.cfg.Observer,
		Post:               post,
		NegotiationTimeout: m.cfg.NegotiationTimeout,
		Logger:             log,
		Metrics:            m.cfg.Metrics,
	}
}

func (m *Manager) handleInbound(data []byte) {
	msg, err := signaling.Decode(data)
	if err != nil {
		m.cfg.Metrics.Inc(metrics.DecodeErrors)
		m.log.Warn("dropping undecodable message", "err", err)
		return
	}
	if msg.Sender == m.cfg.Self {
		return
	}

	switch msg.Kind {
	case signaling.KindUnknown:
		m.log.Debug("ignoring unknown message kind", "from", msg.Sender)
		return
	case signaling.KindJoin:
		m.cfg.Observer.StatusChanged(fmt.Sprintf("%s joined", msg.Sender))
		return
	case signaling.KindLeave:
		if !m.active() || msg.Sender != m.session.Target() {
			m.cfg.Observer.StatusChanged(fmt.Sprintf("%s left", msg.Sender))
			return
		}
	}
	if msg.Target != "" && msg.Target != m.cfg.Self {
		m.cfg.Metrics.Inc(metrics.MessagesRejected)
		m.log.Warn("dropping message addressed to another participant", "kind", msg.Kind, "target", msg.Target)
		return
	}

	if !m.active() {
		if msg.Kind == signaling.KindOffer && !m.channelClosed {
			m.accept(msg)
			return
		}
		m.cfg.Metrics.Inc(metrics.MessagesRejected)
		m.log.Debug("no session for message", "kind", msg.Kind, "from", msg.Sender)
		return
	}

	if err := m.session.Handle(peer.Inbound{Msg: msg}); err != nil {
		m.log.Warn("message rejected", "kind", msg.Kind, "from", msg.Sender, "err", err)
	}
}

func (m *Manager) toggleTracks(kind media.Kind) toggleResult {
	ts := m.media.Tracks()
	tracks := ts.AudioTracks()
	if kind == media.KindVideo {
		tracks = ts.VideoTracks()
	}
	enabled, ok := media.Toggle(tracks)
	if !ok {
		return toggleResult{err: fmt.Errorf("%w: no %s tracks", ErrNoLocalMedia, kind)}
	}
	label := media.AudioToggleLabel(enabled)
	if kind == media.KindVideo {
		label = media.VideoToggleLabel(enabled)
	}
	return toggleResult{enabled: enabled, label: label}
}

func (m *Manager) snapshot() Snapshot {
	if m.session == nil {
		return Snapshot{Phase: peer.PhaseIdle}
	}
	return Snapshot{
		Phase:  m.session.Phase(),
		Role:   m.session.Role(),
		Target: m.session.Target(),
		Reason: m.session.CloseReason(),
	}
}
