package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default TTLs per resource prefix. List endpoints for slow-changing
// resources cache longer; campaign views change as sends progress, so
// they expire sooner.
var ttlByPrefix = map[string]time.Duration{
	"/api/v1/templates": 5 * time.Minute,
	"/api/v1/channels":  10 * time.Minute,
	"/api/v1/campaigns": 3 * time.Minute,
}

const defaultTTL = 5 * time.Minute

// ResponseCache caches rendered GET responses in Redis, keyed per
// caller so one user's view never leaks to another.
type ResponseCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewResponseCache creates a response cache backed by Redis
func NewResponseCache(client *redis.Client, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{client: client, logger: logger}
}

// Key builds a stable cache key from the caller, path, and query.
// Query parameters are sorted so parameter order does not fragment the
// cache.
func Key(actor, path string, query url.Values) string {
	params := make([]string, 0, len(query))
	for name, values := range query {
		for _, v := range values {
			params = append(params, name+"="+v)
		}
	}
	sort.Strings(params)

	sum := sha256.Sum256([]byte(actor + "|" + path + "|" + strings.Join(params, "&")))
	return "respcache:" + hex.EncodeToString(sum[:16])
}

// TTLFor returns the cache TTL for a request path
func TTLFor(path string) time.Duration {
	for prefix, ttl := range ttlByPrefix {
		if strings.HasPrefix(path, prefix) {
			return ttl
		}
	}
	return defaultTTL
}

// Get returns the cached response body for the key, or found=false on
// a miss. Redis failures count as misses.
func (c *ResponseCache) Get(ctx context.Context, key string) (body []byte, found bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("response cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return data, true
}

// Set stores a response body under the key with the path's TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, body, ttl).Err(); err != nil {
		c.logger.Warn("response cache write failed", slog.String("error", err.Error()))
	}
}

// Flush is a best-effort sweep of every cached entry, run after
// mutations. Entries are content-addressed, so targeted invalidation is
// not possible; the short TTLs bound staleness between flushes.
func (c *ResponseCache) Flush(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, "respcache:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("response cache invalidation failed", slog.String("error", err.Error()))
			return
		}
	}
}
