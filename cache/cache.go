// Package cache is the Redis read-through layer for search results and
// reflection snapshots.
//
// The cache is strictly derived data: a miss or a down Redis only costs a
// trip to the primary store, never correctness. Keys are scoped by tenant so
// invalidation after a write stays cheap and cross-tenant bleed is
// structurally impossible.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/tenancy"
)

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Cache wraps a Redis client with the memory substrate's key scheme.
type Cache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New connects a Cache using the given Redis configuration. The connection is
// verified once up front; a down Redis at startup is a hard error so the
// operator notices, even though a down Redis at runtime is tolerated.
func New(cfg config.RedisConfig, defaultTTL time.Duration, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix, defaultTTL, logger), nil
}

// NewWithClient wraps an existing client. Used by tests and by callers that
// manage the client lifecycle themselves.
func NewWithClient(client *redis.Client, keyPrefix string, defaultTTL time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Cache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "cache")),
	}
}

// SearchKey derives a deterministic cache key from the caller's scope and the
// normalized query parameters. Two callers in different tenants can never
// collide because the tenant segment is part of the key, not the hash.
func (c *Cache) SearchKey(scope tenancy.Scope, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(scope.OrgID))
	h.Write([]byte{0})
	h.Write([]byte(scope.UserID))
	h.Write([]byte{0})
	h.Write([]byte(string(scope.Role)))
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	for _, p := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return fmt.Sprintf("%ssearch:%s:%s", c.keyPrefix, tenantSegment(scope), hex.EncodeToString(h.Sum(nil))[:32])
}

// SnapshotKey is the cache key for a tenant's materialized reflection
// snapshot.
func (c *Cache) SnapshotKey(scope tenancy.Scope) string {
	return fmt.Sprintf("%ssnapshot:reflections:%s", c.keyPrefix, tenantSegment(scope))
}

// GetJSON loads and unmarshals a cached value into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("cache is closed")
	}

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a value. A zero ttl uses the default.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("cache is closed")
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("cache is closed")
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// InvalidateTenant drops every search entry for the tenant. Called after a
// write lands in the primary store so stale result sets age out immediately
// instead of waiting for the TTL.
func (c *Cache) InvalidateTenant(ctx context.Context, scope tenancy.Scope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("cache is closed")
	}

	pattern := fmt.Sprintf("%ssearch:%s:*", c.keyPrefix, tenantSegment(scope))
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache invalidation scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidation delete failed: %w", err)
	}

	c.logger.Debug("tenant search cache invalidated",
		zap.String("tenant_id", scope.TenantID),
		zap.Int("keys", len(keys)))
	return nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("cache is closed")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

func tenantSegment(scope tenancy.Scope) string {
	if scope.TenantID == "" {
		return "_global"
	}
	return scope.TenantID
}
