package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "washpoint:catalog:"

type RedisCatalogCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewRedisCatalogCacheWithClient(client)
}

func NewRedisCatalogCacheWithClient(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{client: client, now: time.Now}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if len(data) == 0 {
		return nil
	}
	payload, err := json.Marshal(Entry{Data: data, StoredAt: c.now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err()
}
