package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] counter key, ARGV[1] window in milliseconds.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var (
	ErrNotConfigured = errors.New("rate limiter not configured")
	ErrEmptyKey      = errors.New("rate limiter key is empty")
	ErrInvalidLimit  = errors.New("rate limit must be positive")
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindow counts hits per key in a shared store. The first hit in a window
// sets the key expiry; counting and expiry happen in one script call.
type FixedWindow struct {
	client *redis.Client
	script *redis.Script
}

func NewFixedWindow(client *redis.Client) *FixedWindow {
	if client == nil {
		return nil
	}
	return &FixedWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (w *FixedWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if w == nil || w.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidLimit
	}

	res, err := w.script.Run(ctx, w.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, errors.New("invalid rate limit script response")
	}

	count := int(res[0])
	result := &Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
	}
	if !result.Allowed {
		result.RetryAfter = time.Duration(res[1]) * time.Millisecond
	}
	return result, nil
}
