package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "recall:session:"

// RedisBackend implements StorageBackend using Redis.
// It lets several processes share session memory.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all session keys (default: "recall:session:").
	Prefix string `yaml:"prefix"`
	// SessionTTL is the record expiry duration (0 = never expire).
	SessionTTL time.Duration `yaml:"session_ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		// Close client to release connection pool resources
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.SessionTTL), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (b *RedisBackend) memoryKey(sessionID string) string {
	return b.prefix + "memory:" + sessionID
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// SaveMemory creates or replaces the record for a session.
func (b *RedisBackend) SaveMemory(ctx context.Context, sessionID string, mem *memory.SessionMemory) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.New("session ID is required")
	}
	if mem == nil {
		return errors.New("memory is nil")
	}

	data, err := json.Marshal(record{
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
		Memory:    mem,
	})
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.memoryKey(sessionID), data, b.ttl)
	pipe.SAdd(ctx, b.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// LoadMemory retrieves the record for a session.
func (b *RedisBackend) LoadMemory(ctx context.Context, sessionID string) (*memory.SessionMemory, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.memoryKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMemoryNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal memory: %w", err)
	}
	if rec.Memory == nil {
		return nil, ErrMemoryNotFound
	}
	return rec.Memory, nil
}

// DeleteMemory removes the record for a session.
func (b *RedisBackend) DeleteMemory(ctx context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.memoryKey(sessionID))
	pipe.SRem(ctx, b.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// ListSessions returns the IDs of sessions with a stored record. Index
// entries whose record has expired are cleaned up.
func (b *RedisBackend) ListSessions(ctx context.Context) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Sort for deterministic output (Redis sets are unordered)
	sort.Strings(ids)

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := b.client.Exists(ctx, b.memoryKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("check session %s: %w", id, err)
		}
		if n == 0 {
			b.client.SRem(ctx, b.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}
