// Package cache holds the shared Redis client, the post read-through cache
// and the key layout used by sessions.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"realmeal/internal/observability"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// errorCounter feeds RedisErrorRate. A miss (redis.Nil) is not an error.
type errorCounter struct{}

func (errorCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		countError(cmd.Name(), err)
		return err
	}
}

func (errorCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		countError("pipeline", err)
		return err
	}
}

func countError(op string, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues(op).Inc()
	}
}

// ParseOptions accepts a redis:// URL or a bare host:port.
func ParseOptions(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty redis address")
	}
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return opts, nil
}

// Connect dials Redis, instruments it and installs it as the shared client.
func Connect(ctx context.Context, raw string) (*redis.Client, error) {
	opts, err := ParseOptions(raw)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(c); err != nil {
		observability.GlobalLogger.Warn("redis tracing instrumentation failed", "error", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	SetClient(c)
	return c, nil
}

// InitRedis is Connect for callers that run without Redis when it is absent:
// post reads go uncached and sessions stay in memory.
func InitRedis(ctx context.Context, raw string) *redis.Client {
	c, err := Connect(ctx, raw)
	if err != nil {
		observability.GlobalLogger.Warn("redis unavailable, continuing without cache", "error", err)
		SetClient(nil)
		return nil
	}
	observability.GlobalLogger.Info("redis connected", "addr", c.Options().Addr)
	return c
}

// SetClient installs c as the shared client. Passing nil disables caching.
func SetClient(c *redis.Client) {
	if c != nil {
		c.AddHook(errorCounter{})
	}
	client = c
}
