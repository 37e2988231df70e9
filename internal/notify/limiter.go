package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter decides whether a notification keyed by key may go out within window
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// MemoryLimiter keeps the last send time per key in process memory
type MemoryLimiter struct {
	mu    sync.Mutex
	last  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{last: make(map[string]time.Time), clock: time.Now}
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if last, ok := l.last[key]; ok && now.Sub(last) < window {
		return false, nil
	}

	// Forget keys that can no longer block anything
	for k, t := range l.last {
		if now.Sub(t) >= window {
			delete(l.last, k)
		}
	}
	l.last[key] = now
	return true, nil
}

// RedisLimiter shares rate-limit state between instances with SET NX and a TTL
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter connects to redis and verifies the connection
func NewRedisLimiter(ctx context.Context, addr, password, prefix string) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisLimiter{client: client, prefix: prefix}, nil
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Close closes the redis client
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
