// Package submission tracks sign-in attempts that are still waiting on the
// authentication backend so a second submit for the same session is refused.
package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Acquire when a submission for the key is already running.
var ErrInFlight = errors.New("submission already in flight")

// Registry records in-flight submissions.
type Registry interface {
	// Acquire marks key as in flight. The returned release func must be called once
	// the submission settles.
	Acquire(ctx context.Context, key string) (release func(), err error)
	// InFlight reports whether key currently has a submission running.
	InFlight(ctx context.Context, key string) bool
}

// MemoryRegistry keeps in-flight keys in process memory.
type MemoryRegistry struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewMemoryRegistry constructs an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{pending: make(map[string]struct{})}
}

// Acquire implements Registry.
func (m *MemoryRegistry) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; ok {
		return nil, ErrInFlight
	}
	m.pending[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.pending, key)
			m.mu.Unlock()
		})
	}, nil
}

// InFlight implements Registry.
func (m *MemoryRegistry) InFlight(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}

// redisCommands is the subset of *redis.Client used by RedisRegistry.
type redisCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if this holder still owns it.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// RedisRegistry shares in-flight markers between replicas. Markers expire after ttl so a
// crashed replica cannot block a session forever.
type RedisRegistry struct {
	rdb    redisCommands
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry constructs a RedisRegistry. ttl should exceed the login timeout.
func NewRedisRegistry(rdb redisCommands, ttl time.Duration) *RedisRegistry {
	if rdb == nil {
		panic("submission: redis client is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisRegistry{rdb: rdb, prefix: "signin:inflight:", ttl: ttl}
}

// Acquire implements Registry.
func (r *RedisRegistry) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = r.rdb.Eval(releaseCtx, releaseScript, []string{r.prefix + key}, token).Err()
		})
	}, nil
}

// InFlight implements Registry. Lookup errors are treated as not in flight.
func (r *RedisRegistry) InFlight(ctx context.Context, key string) bool {
	n, err := r.rdb.Exists(ctx, r.prefix+key).Result()
	return err == nil && n > 0
}
