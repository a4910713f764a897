package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache is an OrganisationCache backed by Redis string keys with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func organisationKey(id uuid.UUID) string {
	return "govnotify:org:" + id.String()
}

// Get returns the cached organisation, or ok=false on a miss.
func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*Organisation, bool, error) {
	raw, err := c.rdb.Get(ctx, organisationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var org Organisation
	if err := json.Unmarshal(raw, &org); err != nil {
		return nil, false, fmt.Errorf("decode cached organisation: %w", err)
	}
	return &org, true, nil
}

// Set stores org under id with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, id uuid.UUID, org *Organisation) error {
	b, err := json.Marshal(org)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, organisationKey(id), b, c.ttl).Err()
}
