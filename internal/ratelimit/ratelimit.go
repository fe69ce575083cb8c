// Package ratelimit implements fixed-window request counters scoped per
// provider account and per tenant, backed by a shared counter store so
// multiple worker instances see the same counts.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterStore is an atomic increment with expiry. Redis in production,
// the in-memory store for tests and single-node setups.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisStore counts via INCR + EXPIRE.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryStore is a process-local CounterStore.
type MemoryStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	// Now is overridable in tests.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		Now:     time.Now,
	}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if exp, ok := s.expires[key]; ok && now.After(exp) {
		delete(s.counts, key)
		delete(s.expires, key)
	}
	if _, ok := s.counts[key]; !ok {
		s.expires[key] = now.Add(ttl)
	}
	s.counts[key]++
	return s.counts[key], nil
}

// Limiter combines the provider-account and tenant window counters. One
// provider bulk call consumes exactly one unit from each.
type Limiter struct {
	Store         CounterStore
	Window        time.Duration
	ProviderScope string
	ProviderLimit int
	TenantLimit   int
	// Now is overridable in tests.
	Now func() time.Time
}

func NewLimiter(store CounterStore, window time.Duration, providerScope string, providerLimit, tenantLimit int) *Limiter {
	return &Limiter{
		Store:         store,
		Window:        window,
		ProviderScope: providerScope,
		ProviderLimit: providerLimit,
		TenantLimit:   tenantLimit,
		Now:           time.Now,
	}
}

// CheckAll increments both counters and allows the call only when both are
// under their thresholds. A denied scope does not roll back the other
// scope's increment; the over-count self-corrects at window expiry.
// Fail-open: if the store is unreachable the check passes and the
// degradation is logged.
func (l *Limiter) CheckAll(ctx context.Context, tenant string) bool {
	providerOK := l.check(ctx, "provider", l.ProviderScope, l.ProviderLimit)
	tenantOK := l.check(ctx, "tenant", tenant, l.TenantLimit)
	return providerOK && tenantOK
}

func (l *Limiter) check(ctx context.Context, kind, scope string, limit int) bool {
	windowStart := l.Now().Truncate(l.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", kind, scope, windowStart.UnixMilli())

	count, err := l.Store.Incr(ctx, key, 2*l.Window)
	if err != nil {
		log.Println("⚠️ rate limit store unreachable, failing open:", err)
		return true
	}
	return count <= int64(limit)
}
