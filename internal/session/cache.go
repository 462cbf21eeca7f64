package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long a cached Context can drift from the relational
// source of truth after an add_document/remove_document/update_mode call.
const cacheTTL = 30 * time.Second

// Cache wraps a Store with a Redis-backed read-through cache for
// get_context, the hottest read on the session's critical path (consulted
// at the start of every workflow turn).
type Cache struct {
	store  *Store
	client *redis.Client
}

// NewCache builds a Cache. redisURL is parsed with redis.ParseURL, so it
// accepts the standard "redis://[user:pass@]host:port/db" form.
func NewCache(store *Store, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{store: store, client: client}, nil
}

func contextCacheKey(tenantID, sessionID string) string {
	return "ragflow:session-context:" + tenantID + ":" + sessionID
}

// GetContext returns the cached Context if fresh, otherwise recomputes it
// from the Store and repopulates the cache.
func (c *Cache) GetContext(ctx context.Context, tenantID, sessionID string) (*Context, error) {
	key := contextCacheKey(tenantID, sessionID)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached Context
		if json.Unmarshal(data, &cached) == nil {
			return &cached, nil
		}
	}

	result, err := c.store.GetContext(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		_ = c.client.Set(ctx, key, data, cacheTTL).Err()
	}
	return result, nil
}

// Invalidate drops a session's cached context, called after any mutation
// that changes it (add/remove document, update_mode).
func (c *Cache) Invalidate(ctx context.Context, tenantID, sessionID string) {
	_ = c.client.Del(ctx, contextCacheKey(tenantID, sessionID)).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
