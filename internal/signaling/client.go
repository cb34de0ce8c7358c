package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// ErrChannel wraps every failure of the message channel: dial errors, write
// errors, and the terminal read error returned by Client.Run.
var ErrChannel = errors.New("message channel")

type ClientConfig struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	Username string
	Password string
	// Token is sent instead of Password when the relay runs in JWT mode.
	Token string

	Origin string

	MaxMessageBytes int64
	// PingInterval enables client keepalive pings. The read deadline is
	// extended by twice this interval on every pong.
	PingInterval time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Client is the participant side of the message channel. Frames are delivered
// to the Run callback in arrival order.
type Client struct {
	conn     *websocket.Conn
	username string
	cfg      ClientConfig
	log      *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrChannel)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrChannel, err)
	}
	q := u.Query()
	q.Set("username", cfg.Username)
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	} else if cfg.Password != "" {
		q.Set("password", cfg.Password)
	}
	u.RawQuery = q.Encode()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	var header http.Header
	if cfg.Origin != "" {
		header = http.Header{"Origin": []string{cfg.Origin}}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (status %d)", ErrChannel, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrChannel, err)
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		conn:     conn,
		username: cfg.Username,
		cfg:      cfg,
		log:      log.With("username", cfg.Username),
		closed:   make(chan struct{}),
	}, nil
}

func (c *Client) Username() string { return c.username }

// Send stamps the local username on m and writes it as a single text frame.
func (c *Client) Send(m Message) error {
	m.Sender = c.username
	b, err := Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrChannel, m.Kind, err)
	}
	return nil
}

// Run reads frames until the connection fails, the relay closes it, or ctx is
// done. It always returns a non-nil error wrapping ErrChannel.
func (c *Client) Run(ctx context.Context, deliver func([]byte)) error {
	if c.cfg.PingInterval > 0 {
		idle := 2 * c.cfg.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(idle))
		})
		go c.pingLoop()
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			_ = c.Close()
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrChannel, ctx.Err())
			}
			return fmt.Errorf("%w: read: %v", ErrChannel, err)
		}
		if typ != websocket.TextMessage {
			c.log.Debug("dropping non-text frame", "type", typ)
			continue
		}
		deliver(data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
