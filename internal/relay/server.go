package relay

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
)

// Server implements GET /ws (the signaling channel) and GET /participants.
type Server struct {
	auth    auth.Authenticator
	hub     *Hub
	log     *slog.Logger
	metrics *metrics.Metrics
	limits  participantLimits

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, authn auth.Authenticator, hub *Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	policy := origin.Policy{Allowed: cfg.AllowedOrigins}
	return &Server{
		auth:    authn,
		hub:     hub,
		log:     logger,
		metrics: m,
		limits: participantLimits{
			MaxMessageBytes:      cfg.MaxMessageBytes,
			MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
			IdleTimeout:          cfg.IdleTimeout,
			PingInterval:         cfg.PingInterval,
			SendQueueBytes:       cfg.SendQueueBytes,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				_, ok := policy.Check(r)
				return ok
			},
		},
	}
}

// Register mounts the relay routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
	mux.HandleFunc("GET /participants", s.handleParticipants)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, err := s.auth.Authenticate(r.URL.Query())
	if err != nil {
		s.metrics.Inc(metrics.AuthFailures)
		s.log.Info("authentication failed", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return username, true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := newParticipant(uuid.NewString(), username, conn, s.limits, s.metrics, s.log)
	if err := s.hub.register(p); err != nil {
		code := websocket.ClosePolicyViolation
		if errors.Is(err, ErrTooManyParticipants) || errors.Is(err, ErrHubClosed) {
			code = websocket.CloseTryAgainLater
		}
		p.log.Info("connection refused", "err", err)
		p.close(code, err.Error())
		return
	}

	p.log.Info("participant connected", "remote_addr", r.RemoteAddr)
	go p.writeLoop()
	go p.pingLoop()

	p.readLoop(func(data []byte) { s.hub.route(p, data) })

	s.hub.unregister(p)
	p.close(websocket.CloseNormalClosure, "")
	p.log.Info("participant disconnected")
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	names, err := s.hub.Presence().List(r.Context())
	if err != nil {
		s.log.Error("list participants", "err", err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"participants": names})
}
