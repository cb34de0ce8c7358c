// Package presence tracks which participants are connected to the relay.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis set holding online usernames.
const DefaultRedisKey = "webrtc-call:participants"

type Store interface {
	Add(ctx context.Context, username string) error
	Remove(ctx context.Context, username string) error
	// List returns online usernames in sorted order.
	List(ctx context.Context) ([]string, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{names: make(map[string]struct{})}
}

func (s *MemoryStore) Add(_ context.Context, username string) error {
	s.mu.Lock()
	s.names[username] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, username string) error {
	s.mu.Lock()
	delete(s.names, username)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

// RedisStore keeps presence in a Redis set so several relay processes behind
// one load balancer report the same participants.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedis connects and pings, in the manner of a startup dependency check.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Add(ctx context.Context, username string) error {
	return s.client.SAdd(ctx, s.key, username).Err()
}

func (s *RedisStore) Remove(ctx context.Context, username string) error {
	return s.client.SRem(ctx, s.key, username).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Ping reports whether Redis is reachable; used as a readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Reset clears the set. The relay calls it on startup since a crashed
// process cannot remove the names it registered.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
