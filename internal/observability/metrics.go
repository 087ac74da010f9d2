package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realmeal_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realmeal_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// SlowQueries counts SQL statements slower than DB_SLOW_QUERY_MS.
	SlowQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realmeal_database_slow_queries_total",
		Help: "SQL statements over the slow query threshold",
	})

	// PostsCreated counts successfully created posts.
	PostsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realmeal_posts_created_total",
		Help: "Total number of posts created",
	})

	// PostsExpired counts posts removed after their retention window, by path (read or reaper).
	PostsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realmeal_posts_expired_total",
		Help: "Total number of expired posts deleted",
	}, []string{"path"})

	// Reactions counts reaction attempts by kind and outcome.
	Reactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realmeal_reactions_total",
		Help: "Reaction attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	// CommentsAppended counts comments added to posts.
	CommentsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realmeal_comments_appended_total",
		Help: "Total number of comments appended",
	})

	// BlobUploadBytes records uploaded image sizes.
	BlobUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realmeal_blob_upload_bytes",
		Help:    "Size of uploaded images in bytes",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
	})

	// AuthEvents counts identity operations by action and result.
	AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realmeal_auth_events_total",
		Help: "Identity provider operations by action and result",
	}, []string{"action", "result"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
