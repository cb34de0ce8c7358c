package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/presence"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

const presenceTimeout = 2 * time.Second

// Hub is the table of connected participants, keyed by username. It routes
// signaling messages between them and announces joins and leaves.
type Hub struct {
	log             *slog.Logger
	metrics         *metrics.Metrics
	presence        presence.Store
	maxParticipants int

	mu           sync.Mutex
	participants map[string]*participant
	closed       bool
}

// NewHub creates a hub. maxParticipants <= 0 means unlimited; a nil store
// keeps presence in memory.
func NewHub(maxParticipants int, store presence.Store, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if store == nil {
		store = presence.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:             logger,
		metrics:         m,
		presence:        store,
		maxParticipants: maxParticipants,
		participants:    make(map[string]*participant),
	}
}

func (h *Hub) Presence() presence.Store { return h.presence }

// Participants returns the usernames connected to this process.
func (h *Hub) Participants() []string {
	h.mu.Lock()
	names := make([]string, 0, len(h.participants))
	for name := range h.participants {
		names = append(names, name)
	}
	h.mu.Unlock()
	sort.Strings(names)
	return names
}

func (h *Hub) register(p *participant) error {
	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return ErrHubClosed
	case h.participants[p.username] != nil:
		h.mu.Unlock()
		h.metrics.Inc(metrics.DropReasonDuplicateLogin)
		return ErrParticipantAlreadyConnected
	case h.maxParticipants > 0 && len(h.participants) >= h.maxParticipants:
		h.mu.Unlock()
		h.metrics.Inc(metrics.DropReasonTooManyClients)
		return ErrTooManyParticipants
	}
	h.participants[p.username] = p
	h.mu.Unlock()

	h.metrics.Inc(metrics.ParticipantsConnected)
	h.updatePresence(p.username, true)
	h.broadcast(p, signaling.Message{Kind: signaling.KindJoin, Sender: p.username})
	return nil
}

// unregister removes p if it is still the registered connection for its
// username and tells the others it left.
func (h *Hub) unregister(p *participant) {
	h.mu.Lock()
	if h.participants[p.username] != p {
		h.mu.Unlock()
		return
	}
	delete(h.participants, p.username)
	h.mu.Unlock()

	h.metrics.Inc(metrics.ParticipantsDisconnected)
	h.updatePresence(p.username, false)
	h.broadcast(p, signaling.Message{Kind: signaling.KindLeave, Sender: p.username})
}

func (h *Hub) updatePresence(username string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	var err error
	if online {
		err = h.presence.Add(ctx, username)
	} else {
		err = h.presence.Remove(ctx, username)
	}
	if err != nil {
		h.log.Warn("presence update failed", "username", username, "online", online, "err", err)
	}
}

// route forwards one inbound frame from p. The sender is always stamped
// with p's username; presence kinds from clients are dropped.
func (h *Hub) route(p *participant, data []byte) {
	msg, err := signaling.Decode(data)
	if err != nil || msg.Kind == signaling.KindUnknown {
		h.metrics.Inc(metrics.DropReasonMalformed)
		p.log.Debug("dropping malformed message", "err", err)
		return
	}
	if msg.Kind == signaling.KindJoin || msg.Kind == signaling.KindLeave {
		h.metrics.Inc(metrics.DropReasonClientPresence)
		return
	}
	msg.Sender = p.username

	h.mu.Lock()
	target := h.participants[msg.Target]
	h.mu.Unlock()
	if target == nil || target == p {
		h.metrics.Inc(metrics.DropReasonUnknownTarget)
		p.log.Debug("dropping message for unknown target", "kind", msg.Kind, "target", msg.Target)
		return
	}

	frame, err := signaling.Encode(msg)
	if err != nil {
		h.metrics.Inc(metrics.DropReasonMalformed)
		return
	}
	if target.send(frame) {
		h.metrics.Inc(metrics.MessagesRouted)
	}
}

func (h *Hub) broadcast(except *participant, msg signaling.Message) {
	frame, err := signaling.Encode(msg)
	if err != nil {
		h.log.Error("encode broadcast", "kind", msg.Kind, "err", err)
		return
	}
	h.mu.Lock()
	others := make([]*participant, 0, len(h.participants))
	for _, other := range h.participants {
		if other != except {
			others = append(others, other)
		}
	}
	h.mu.Unlock()
	for _, other := range others {
		other.send(frame)
	}
}

// Close disconnects every participant and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*participant, 0, len(h.participants))
	for _, p := range h.participants {
		all = append(all, p)
	}
	h.mu.Unlock()
	for _, p := range all {
		p.close(websocket.CloseGoingAway, "relay shutting down")
	}
}
