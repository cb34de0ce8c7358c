package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

type participantLimits struct {
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	SendQueueBytes       int
}

// participant is one authenticated websocket connection. The handler
// goroutine runs readLoop; writeLoop and pingLoop run alongside it.
type participant struct {
	id       string
	username string
	conn     *websocket.Conn
	log      *slog.Logger
	metrics  *metrics.Metrics
	limits   participantLimits

	queue   *sendQueue
	limiter *ratelimit.MessageLimiter

	closeOnce sync.Once
	done      chan struct{}
}

func newParticipant(id, username string, conn *websocket.Conn, limits participantLimits, m *metrics.Metrics, logger *slog.Logger) *participant {
	p := &participant{
		id:       id,
		username: username,
		conn:     conn,
		log:      logger.With("conn_id", id, "username", username),
		metrics:  m,
		limits:   limits,
		limiter:  ratelimit.NewMessageLimiter(nil, limits.MaxMessagesPerSecond),
		done:     make(chan struct{}),
	}
	p.queue = newSendQueue(limits.SendQueueBytes, func() {
		m.Inc(metrics.DropReasonQueueFull)
	})
	return p
}

func (p *participant) send(frame []byte) bool {
	return p.queue.Enqueue(frame)
}

// close sends a close frame with code and tears the connection down. Only
// the first call has any effect.
func (p *participant) close(code int, reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		p.queue.Close()
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = p.conn.Close()
	})
}

func (p *participant) writeLoop() {
	for {
		frame, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			p.log.Debug("write failed", "err", err)
			p.close(websocket.CloseAbnormalClosure, "")
			return
		}
	}
}

func (p *participant) pingLoop() {
	if p.limits.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(p.limits.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			// WriteControl may run concurrently with writeLoop.
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				p.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// readLoop feeds inbound text frames to deliver until the connection fails,
// goes idle, or exceeds its message rate.
func (p *participant) readLoop(deliver func([]byte)) {
	p.conn.SetReadLimit(p.limits.MaxMessageBytes)
	extend := func() {
		if p.limits.IdleTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(p.limits.IdleTimeout))
		}
	}
	extend()
	p.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				p.close(websocket.CloseMessageTooBig, "message too large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				p.log.Debug("read failed", "err", err)
			}
			return
		}
		extend()
		if !p.limiter.Allow() {
			p.metrics.Inc(metrics.DropReasonRateLimited)
			p.log.Warn("closing connection over message rate limit")
			p.close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			p.metrics.Inc(metrics.DropReasonMalformed)
			continue
		}
		deliver(data)
	}
}
