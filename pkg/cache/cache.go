package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

const (
	recordKeyPrefix = "record:"
	listKeyPrefix   = "list:"
	listSetPrefix   = "lists:"

	// anySource indexes list queries that carry no source filter;
	// those results can contain records from every source, so every
	// mutation invalidates them
	anySource = "_any"
)

// Cache is a read-through Redis cache for query endpoints. All methods
// are nil-safe: a nil *Cache behaves as a permanent miss, so callers
// need no enabled checks.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    cfg.TTL(),
		logger: log.WithComponent("cache"),
	}, nil
}

// ListKey derives the cache key for a list query
func ListKey(source string, level types.Level, limit, offset int64) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", listKeyPrefix, source, level, limit, offset)
}

// GetRecord returns the cached record for id, if any
func (c *Cache) GetRecord(ctx context.Context, id string) (*types.Record, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug().Err(err).Msg("cache get failed")
		}
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var r types.Record
	if err := json.Unmarshal(data, &r); err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return &r, true
}

// SetRecord caches one record under its id
func (c *Cache) SetRecord(ctx context.Context, r *types.Record) {
	if c == nil {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, recordKeyPrefix+r.ID, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("cache set failed")
	}
}

// GetList returns the cached serialized list response for key, if any
func (c *Cache) GetList(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return data, true
}

// SetList caches a serialized list response and registers the key in
// the per-source invalidation set. An empty source registers under the
// any-source set.
func (c *Cache) SetList(ctx context.Context, source, key string, payload []byte) {
	if c == nil {
		return
	}

	set := listSetPrefix + sourceOrAny(source)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, payload, c.ttl)
	pipe.SAdd(ctx, set, key)
	pipe.Expire(ctx, set, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("cache list set failed")
	}
}

// InvalidateRecord drops the per-id entry
func (c *Cache) InvalidateRecord(ctx context.Context, id string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, recordKeyPrefix+id).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("cache invalidate failed")
	}
}

// InvalidateSource drops every cached list query that could contain a
// record from source: the per-source set and the unfiltered set.
func (c *Cache) InvalidateSource(ctx context.Context, source string) {
	if c == nil {
		return
	}

	for _, set := range []string{listSetPrefix + sourceOrAny(source), listSetPrefix + anySource} {
		keys, err := c.client.SMembers(ctx, set).Result()
		if err != nil {
			continue
		}
		if len(keys) > 0 {
			c.client.Del(ctx, keys...)
		}
		c.client.Del(ctx, set)
	}
}

// Ping verifies the cache connection
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func sourceOrAny(source string) string {
	if source == "" {
		return anySource
	}
	return source
}
