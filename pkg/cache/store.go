package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

// Store is a TTL key/value store for JSON encodable values.
type Store interface {
	// Get decodes the value under key into out, or returns core.ErrCacheMiss.
	Get(ctx context.Context, key string, out interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RedisStore implements Store on Redis
type RedisStore struct {
	client     *redis.Client
	namespace  string
	defaultTTL time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %v: %w", err, core.ErrInvalidConfiguration)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %v: %w", err, core.ErrConnectionFailed)
	}

	if namespace == "" {
		namespace = "gcp-monitor"
	}

	return &RedisStore{
		client:     client,
		namespace:  namespace,
		defaultTTL: 10 * time.Minute,
	}, nil
}

// Set stores value as JSON. A zero ttl uses the default.
func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Get retrieves and decodes a value
func (r *RedisStore) Get(ctx context.Context, key string, out interface{}) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("%s: %w", key, core.ErrCacheMiss)
		}
		return fmt.Errorf("failed to get key: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (r *RedisStore) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// InMemoryStore is a process local Store
type InMemoryStore struct {
	data       map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

type entry struct {
	data   []byte
	expiry time.Time
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data:       make(map[string]entry),
		defaultTTL: 10 * time.Minute,
		now:        time.Now,
	}
}

// Set stores value as JSON so readers never share memory with writers
func (m *InMemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{data: data, expiry: m.now().Add(ttl)}
	return nil
}

// Get retrieves and decodes a value, evicting it when expired
func (m *InMemoryStore) Get(ctx context.Context, key string, out interface{}) error {
	m.mu.Lock()
	e, ok := m.data[key]
	if ok && m.now().After(e.expiry) {
		delete(m.data, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", key, core.ErrCacheMiss)
	}
	return json.Unmarshal(e.data, out)
}

// Delete removes a key
func (m *InMemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op
func (m *InMemoryStore) Close() error { return nil }
