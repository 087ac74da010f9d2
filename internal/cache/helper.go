package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"realmeal/internal/observability"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// generationTTL outlives any load; an expired generation only skips one write.
const generationTTL = 24 * time.Hour

var (
	loads singleflight.Group

	errStaleLoad = errors.New("key invalidated during load")
)

// generationKey counts invalidations of key. A load may only store its
// result while the count is unchanged since the load began.
func generationKey(key string) string { return key + ":gen" }

func getJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, json.Unmarshal(raw, dest)
}

func generation(ctx context.Context, key string) (string, error) {
	gen, err := client.Get(ctx, generationKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// Aside reads key from Redis and falls back to fetch on a miss, storing its
// result for ttl. Concurrent misses on one key share a single fetch, which
// runs detached from any one caller's cancellation. A result is not stored
// if the key was invalidated while it loaded. Redis errors are logged and
// never fail the read; fetch errors are not cached.
func Aside[T any](ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if client == nil {
		return fetch(ctx)
	}

	var cached T
	hit, err := getJSON(ctx, key, &cached)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
	}
	if hit && err == nil {
		return cached, nil
	}

	gen, genErr := generation(ctx, key)
	// Callers arriving after an invalidation must not join an older load.
	flight := key + "#" + gen
	ch := loads.DoChan(flight, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		fresh, err := fetch(lctx)
		if err != nil {
			return fresh, err
		}
		if genErr == nil {
			store(lctx, key, gen, fresh, ttl)
		}
		return fresh, nil
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(T)
		return out, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func store(ctx context.Context, key, gen string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(key)
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		observability.GlobalLogger.DebugContext(ctx, "cache write skipped", "key", key)
	default:
		observability.GlobalLogger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops key and fences off loads that started before the call.
func Invalidate(ctx context.Context, key string) error {
	genKey := generationKey(key)
	_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		p.Del(ctx, key)
		return nil
	})
	return err
}
