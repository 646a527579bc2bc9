package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisMemory implements Store using Redis
type RedisMemory struct {
	client     *redis.Client
	namespace  string
	defaultTTL time.Duration
	mu         sync.RWMutex
}

var _ Store = (*RedisMemory)(nil)

// NewRedisMemory connects to redisURL and verifies the connection, retrying
// the first ping under DefaultRetryPolicy.
func NewRedisMemory(ctx context.Context, redisURL, namespace string) (*RedisMemory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = retry(ctx, DefaultRetryPolicy(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if namespace == "" {
		namespace = "insights"
	}

	return &RedisMemory{
		client:     client,
		namespace:  namespace,
		defaultTTL: 24 * time.Hour,
	}, nil
}

// Set stores a value. A zero ttl uses the store default.
func (r *RedisMemory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	r.mu.RLock()
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	r.mu.RUnlock()

	if err := r.client.Set(ctx, r.buildKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Get retrieves a value by key
func (r *RedisMemory) Get(ctx context.Context, key string) (string, error) {
	data, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return data, nil
}

// Delete removes a key
func (r *RedisMemory) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Exists checks if a key exists
func (r *RedisMemory) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}
	return result > 0, nil
}

// SetTTL sets the default TTL for future operations
func (r *RedisMemory) SetTTL(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTTL = ttl
}

func (r *RedisMemory) buildKey(key string) string {
	return r.namespace + ":" + key
}

// Close closes the Redis connection
func (r *RedisMemory) Close() error {
	return r.client.Close()
}

// InMemoryStore is the process-local Store.
type InMemoryStore struct {
	data       map[string]valueWithExpiry
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

var _ Store = (*InMemoryStore)(nil)

type valueWithExpiry struct {
	value  string
	expiry time.Time
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data:       make(map[string]valueWithExpiry),
		defaultTTL: 24 * time.Hour,
		now:        time.Now,
	}
}

// Set stores a value. A zero ttl uses the store default.
func (m *InMemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.data[key] = valueWithExpiry{
		value:  value,
		expiry: m.now().Add(ttl),
	}
	return nil
}

// Get retrieves a value by key
func (m *InMemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	return entry.value, nil
}

// Delete removes a key
func (m *InMemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Exists checks if a key exists
func (m *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok, nil
}

// SetTTL sets the default TTL
func (m *InMemoryStore) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTTL = ttl
}

// live returns the entry for key, evicting it if expired. Callers hold mu.
func (m *InMemoryStore) live(key string) (valueWithExpiry, bool) {
	entry, ok := m.data[key]
	if !ok {
		return entry, false
	}
	if m.now().After(entry.expiry) {
		delete(m.data, key)
		return entry, false
	}
	return entry, true
}
