package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores JSON-encoded values in redis under a fixed key prefix.
// A nil cache or nil client behaves as an always-empty cache.
type JSONCache[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewJSONCache[V any](client *redis.Client, prefix string, ttl time.Duration) *JSONCache[V] {
	if client == nil {
		return nil
	}
	return &JSONCache[V]{client: client, prefix: prefix, ttl: ttl}
}

func (c *JSONCache[V]) key(id string) string {
	return c.prefix + id
}

func (c *JSONCache[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if c == nil {
		return zero, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

// GetMany returns the cached values keyed by id; ids without an entry are omitted.
func (c *JSONCache[V]) GetMany(ctx context.Context, ids []string) (map[string]V, error) {
	out := make(map[string]V, len(ids))
	if c == nil || len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var value V
		if err := json.Unmarshal([]byte(str), &value); err != nil {
			continue
		}
		out[ids[i]] = value
	}
	return out, nil
}

func (c *JSONCache[V]) Set(ctx context.Context, id string, value V) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(id), raw, c.ttl).Err()
}

func (c *JSONCache[V]) Delete(ctx context.Context, ids ...string) error {
	if c == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
