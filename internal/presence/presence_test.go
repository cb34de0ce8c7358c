package presence

import (
	"context"
	"os"
	"strings"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, name := range []string{"bob", "alice", "bob"} {
		if err := s.Add(ctx, name); err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
	}
	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(got, ",") != "alice,bob" {
		t.Fatalf("List=%v, want [alice bob]", got)
	}

	if err := s.Remove(ctx, "alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "nobody"); err != nil {
		t.Fatalf("Remove(unknown): %v", err)
	}
	got, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(got, ",") != "bob" {
		t.Fatalf("List=%v, want [bob]", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "webrtc-call:test:"+t.Name())
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	t.Cleanup(func() { _ = s.Reset(context.Background()) })
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseStore(t, s)
}
