package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shiptrack/internal/domain/order"

	"github.com/redis/go-redis/v9"
)

const orderKeyPrefix = "order:"

// OrderCache caches order aggregates as JSON.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OrderCache{client: client, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *OrderCache) Get(ctx context.Context, id string) (*order.Order, error) {
	raw, err := c.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached order %s: %w", id, err)
	}
	var o order.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode cached order %s: %w", id, err)
	}
	return &o, nil
}

func (c *OrderCache) Set(ctx context.Context, o order.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	if err := c.client.Set(ctx, orderKeyPrefix+o.ID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache order %s: %w", o.ID, err)
	}
	return nil
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	if err := c.client.Del(ctx, orderKeyPrefix+orderID).Err(); err != nil {
		return fmt.Errorf("invalidate order %s: %w", orderID, err)
	}
	return nil
}
