package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/config"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
)

// MappingCache keeps a warm copy of the pseudonym mapping table in Redis so
// a restarted process can rebuild its table without re-deriving pseudonyms
// from traffic. Keys are hashes of the original value; the original only
// appears inside the stored JSON payload, never in a key.
type MappingCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
}

// NewMappingCache connects to Redis and verifies the connection.
func NewMappingCache(cfg config.CacheConfig, logger *zap.Logger) (*MappingCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	cache := &MappingCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cache.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Mapping cache initialized",
		zap.String("redis_url", maskURL(cfg.RedisURL)),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// Put stores one mapping with the configured TTL.
func (c *MappingCache) Put(ctx context.Context, mapping pseudonym.Mapping) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}
	if err := c.client.Set(ctx, c.key(mapping.OriginalValue), data, c.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache mapping: %w", err)
	}
	return nil
}

// PutBatch stores many mappings through one pipeline round-trip.
func (c *MappingCache) PutBatch(ctx context.Context, mappings []pseudonym.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, mapping := range mappings {
		data, err := json.Marshal(mapping)
		if err != nil {
			c.logger.Error("Failed to marshal mapping for batch cache", zap.Error(err))
			continue
		}
		pipe.Set(ctx, c.key(mapping.OriginalValue), data, c.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	c.logger.Debug("Mappings cached", zap.Int("count", len(mappings)))
	return nil
}

// LoadAll returns every cached mapping, scanning by key prefix.
func (c *MappingCache) LoadAll(ctx context.Context) ([]pseudonym.Mapping, error) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":map:*", 0).Iterator()

	var mappings []pseudonym.Mapping
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cached mapping: %w", err)
		}

		var mapping pseudonym.Mapping
		if err := json.Unmarshal([]byte(data), &mapping); err != nil {
			c.logger.Warn("Dropping corrupted cache entry", zap.String("key", iter.Val()))
			c.client.Del(ctx, iter.Val())
			continue
		}
		mappings = append(mappings, mapping)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mapping keys: %w", err)
	}

	return mappings, nil
}

// Clear removes every cached mapping under the configured prefix.
func (c *MappingCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":map:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan mapping keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete mapping keys: %w", err)
		}
	}

	c.logger.Info("Mapping cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (c *MappingCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *MappingCache) key(original string) string {
	sum := sha256.Sum256([]byte(original))
	return fmt.Sprintf("%s:map:%s", c.config.KeyPrefix, hex.EncodeToString(sum[:])[:16])
}

// maskURL masks credentials embedded in a connection URL for logging.
func maskURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
