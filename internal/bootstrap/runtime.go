// Package bootstrap connects the backing services shared by every command.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"realmeal/internal/cache"
	"realmeal/internal/config"
	"realmeal/internal/database"
	"realmeal/internal/events"
	"realmeal/internal/middleware"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Runtime holds the connections a command works with. Redis is nil when the
// server is unreachable; Publisher is a no-op when NATS is not configured.
type Runtime struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher
}

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema connects without applying migrations.
	SkipSchema bool
}

// InitRuntime connects to the database, Redis and the event broker.
func InitRuntime(ctx context.Context, cfg *config.Config, opts ...Options) (*Runtime, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	db, err := database.ConnectWithOptions(ctx, cfg, database.ConnectOptions{ApplySchema: !o.SkipSchema})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	rt := &Runtime{
		DB:        db,
		Redis:     cache.InitRedis(ctx, cfg.RedisURL),
		Publisher: events.NoopPublisher{},
	}

	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("event broker connection failed: %w", err)
		}
		rt.Publisher = pub
		middleware.Logger.Info("event broker connected", slog.String("url", cfg.NATSURL))
	}

	return rt, nil
}

// Close releases every connection held by the runtime.
func (r *Runtime) Close() {
	if closer, ok := r.Publisher.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	_ = database.Close(r.DB)
}
