// Package idempotency remembers processed external event keys so redeliveries
// can be answered without touching the database. The database unique
// constraint stays authoritative; a guard is only a fast path.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records processed keys.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// RedisGuard stores keys in Redis with a TTL.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a Redis backed guard. Keys expire after ttl.
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Remember(ctx context.Context, key string) error {
	return g.client.Set(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Err()
}

// MemoryGuard keeps keys in process. Used in tests and single-instance development.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]struct{})}
}

func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok, nil
}

func (g *MemoryGuard) Remember(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = struct{}{}
	return nil
}

// Nop never reports a key as seen.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Remember(context.Context, string) error     { return nil }
