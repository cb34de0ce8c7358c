package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoRelay upgrades /ws and echoes every text frame back.
func echoRelay(t *testing.T, check func(r *http.Request) bool) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil && !check(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestClient_SendAndRun(t *testing.T) {
	url := echoRelay(t, func(r *http.Request) bool {
		q := r.URL.Query()
		return q.Get("username") == "alice" && q.Get("password") == "secret" &&
			r.Header.Get("Origin") == "https://app.example.com"
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, ClientConfig{URL: url, Username: "alice", Password: "secret", Origin: "https://app.example.com", PingInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if c.Username() != "alice" {
		t.Fatalf("username=%q, want alice", c.Username())
	}

	got := make(chan Message, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx, func(data []byte) {
			msg, err := Decode(data)
			if err == nil {
				got <- msg
			}
		})
	}()

	if err := c.Send(Message{Kind: KindJoin, Sender: "mallory"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-got:
		if msg.Kind != KindJoin || msg.Sender != "alice" {
			t.Fatalf("echo=%+v, want join stamped alice", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no echo")
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, ErrChannel) || !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v, want ErrChannel wrapping context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestClient_DialErrors(t *testing.T) {
	url := echoRelay(t, func(*http.Request) bool { return false })
	ctx := context.Background()

	if _, err := Dial(ctx, ClientConfig{URL: url}); !errors.Is(err, ErrChannel) {
		t.Fatalf("missing username: err=%v, want ErrChannel", err)
	}
	_, err := Dial(ctx, ClientConfig{URL: url, Username: "alice", Password: "wrong"})
	if !errors.Is(err, ErrChannel) || !strings.Contains(err.Error(), "401") {
		t.Fatalf("rejected dial: err=%v, want ErrChannel with status 401", err)
	}
}

func TestClient_SendRejectsUnknownKind(t *testing.T) {
	c, err := Dial(context.Background(), ClientConfig{URL: echoRelay(t, nil), Username: "alice"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.Send(Message{Kind: KindUnknown}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
