package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const controlVersionKey = "accounts:control:version"

// ControlCache keeps seeded control accounts in Redis keyed by code.
// Sub-accounts are never cached: they can be created inside a transaction
// that later rolls back.
type ControlCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewControlCache instantiates the cache helper.
func NewControlCache(client *redis.Client, ttl time.Duration) *ControlCache {
	return &ControlCache{client: client, ttl: ttl}
}

func (c *ControlCache) key(ctx context.Context, code string) (string, error) {
	ver, err := c.client.Get(ctx, controlVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 1
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("accounts:control:%s:%d", code, ver), nil
}

// Fetch returns the cached account or populates it from loader.
// Redis failures degrade to the loader.
func (c *ControlCache) Fetch(ctx context.Context, code string, loader func(context.Context) (AccountItem, error)) (AccountItem, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.key(ctx, code)
	if err != nil {
		return loader(ctx)
	}
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var item AccountItem
		if json.Unmarshal(payload, &item) == nil && item.ID != 0 {
			return item, nil
		}
	}
	item, err := loader(ctx)
	if err != nil {
		return AccountItem{}, err
	}
	if raw, err := json.Marshal(item); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return item, nil
}

// Bump invalidates every cached control account.
func (c *ControlCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.SetNX(ctx, controlVersionKey, 1, 0).Err(); err != nil {
		return err
	}
	return c.client.Incr(ctx, controlVersionKey).Err()
}
