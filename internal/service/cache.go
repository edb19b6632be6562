package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"creditledger/internal/model"
)

// ErrCacheMiss means the account has no cached status.
var ErrCacheMiss = errors.New("status not found in cache")

// StatusCache is the read-side cache for account status. It is advisory only:
// a stale or missing entry just costs an event-store load.
type StatusCache interface {
	Get(ctx context.Context, accountID int64) (*model.AccountStatus, error)
	Set(ctx context.Context, status *model.AccountStatus) error
}

// RedisCache stores statuses as JSON under credits:status:<id>. No TTL: the
// write path refreshes the entry after every committed batch.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func statusKey(accountID int64) string {
	return fmt.Sprintf("credits:status:%d", accountID)
}

func (c *RedisCache) Get(ctx context.Context, accountID int64) (*model.AccountStatus, error) {
	raw, err := c.client.Get(ctx, statusKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var status model.AccountStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &status, nil
}

func (c *RedisCache) Set(ctx context.Context, status *model.AccountStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(status.AccountID), raw, 0).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
