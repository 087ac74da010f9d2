package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"realmeal/internal/events"
	"realmeal/internal/models"
	"realmeal/internal/observability"
	"realmeal/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Reaper defaults.
const (
	DefaultReaperInterval  = time.Hour
	DefaultReaperBatchSize = 500
)

// Reaper periodically deletes posts past the retention window so storage stays
// bounded even for posts nobody reads again.
type Reaper struct {
	posts     repository.PostRepository
	publisher *PostService
	interval  time.Duration
	batchSize int

	workerOnce sync.Once
}

// NewReaper builds a reaper that shares retention, clock and publisher with posts.
func NewReaper(repo repository.PostRepository, posts *PostService, interval time.Duration, batchSize int) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultReaperBatchSize
	}
	return &Reaper{posts: repo, publisher: posts, interval: interval, batchSize: batchSize}
}

// StartBackgroundWorker sweeps once immediately and then on every interval until ctx
// is cancelled. Only the first call starts a worker.
func (r *Reaper) StartBackgroundWorker(ctx context.Context) {
	r.workerOnce.Do(func() {
		go r.workerLoop(ctx)
	})
}

func (r *Reaper) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			observability.LogAsyncOperationError(ctx, "reaper.sweep", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce deletes expired posts in batches until none remain and returns how many
// were removed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	ctx, end := observability.StartOperation(ctx, "reaper", "sweep", attribute.Int("batch.size", r.batchSize))
	total, err := r.sweep(ctx)
	observability.AnnotateSpan(ctx, attribute.Int("posts.deleted", total))
	end(err)
	return total, err
}

func (r *Reaper) sweep(ctx context.Context) (int, error) {
	cutoff := r.publisher.now().UTC().Add(-r.publisher.retention)
	observability.LogAsyncOperationStart(ctx, "reaper.sweep", map[string]any{"cutoff": cutoff})

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := r.posts.ListExpired(ctx, cutoff, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		n, err := r.deleteBatch(ctx, batch)
		if err != nil {
			return total, err
		}
		total += n
		if len(batch) < r.batchSize {
			break
		}
	}

	observability.LogAsyncOperationEnd(ctx, "reaper.sweep", map[string]any{"deleted": total})
	return total, nil
}

func (r *Reaper) deleteBatch(ctx context.Context, batch []*models.Post) (int, error) {
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.ID
	}
	deleted, err := r.posts.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, err
	}
	observability.PostsExpired.WithLabelValues(expiryPathReaper).Add(float64(deleted))
	observability.GlobalLogger.InfoContext(ctx, "reaped expired posts", slog.Int64("deleted", deleted))

	for _, p := range batch {
		r.publisher.publish(ctx, events.SubjectPostExpired, events.PostExpired{
			ID:       p.ID,
			AuthorID: p.AuthorID,
			Path:     expiryPathReaper,
		})
	}
	return int(deleted), nil
}
