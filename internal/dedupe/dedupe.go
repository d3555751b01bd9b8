// Package dedupe remembers source URLs that were already analyzed so repeat
// runs skip them for a configurable window.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	sha "github.com/calvin1011/watchtower/internal/hash/sha256"
	"github.com/calvin1011/watchtower/internal/intel"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Config holds Redis connection and key settings.
type Config struct {
	Address   string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// Redis is a SeenStore keyed by the SHA-256 of each URL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	hasher *sha.Hasher
}

// NewRedis connects and pings Redis.
func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(client, cfg.TTL, cfg.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: prefix, hasher: sha.New()}
}

// Unseen returns the URLs without a live key, in input order. Empty URLs are
// always returned.
func (r *Redis) Unseen(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	keys := make([]string, len(urls))
	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(urls))
	for i, u := range urls {
		if u == "" {
			continue
		}
		keys[i] = r.key(u)
		cmds[i] = pipe.Exists(ctx, keys[i])
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("check seen urls: %w", err)
	}
	out := make([]string, 0, len(urls))
	for i, u := range urls {
		if cmds[i] == nil || cmds[i].Val() == 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

// MarkSeen records the URLs with the configured TTL.
func (r *Redis) MarkSeen(ctx context.Context, urls []string) error {
	pipe := r.client.Pipeline()
	queued := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		pipe.Set(ctx, r.key(u), time.Now().UTC().Format(time.RFC3339), r.ttl)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark seen urls: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(u string) string {
	digest, _ := r.hasher.HashURL(u)
	return r.prefix + digest
}

// Memory is an in-process SeenStore for development and tests.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  intel.Clock
	seen   map[string]time.Time
	hasher *sha.Hasher
}

// NewMemory builds a Memory store. A zero ttl never expires entries.
func NewMemory(ttl time.Duration, clock intel.Clock) *Memory {
	return &Memory{ttl: ttl, clock: clock, seen: make(map[string]time.Time), hasher: sha.New()}
}

// Unseen implements intel.SeenStore.
func (m *Memory) Unseen(_ context.Context, urls []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			out = append(out, u)
			continue
		}
		key, _ := m.hasher.HashURL(u)
		at, ok := m.seen[key]
		if ok && (m.ttl <= 0 || now.Sub(at) < m.ttl) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// MarkSeen implements intel.SeenStore.
func (m *Memory) MarkSeen(_ context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for _, u := range urls {
		if u == "" {
			continue
		}
		key, _ := m.hasher.HashURL(u)
		m.seen[key] = now
	}
	return nil
}
