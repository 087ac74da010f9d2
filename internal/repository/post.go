// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"realmeal/internal/cache"
	"realmeal/internal/models"
	"realmeal/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListRecent(ctx context.Context, before *time.Time, limit int) ([]*models.Post, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*models.Post, error)
	Delete(ctx context.Context, id string) error
	IncrementCounter(ctx context.Context, id string, kind models.ReactionKind, ceiling int) (bool, error)
	AddToCounter(ctx context.Context, id string, kind models.ReactionKind) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Post, error)
	DeleteBatch(ctx context.Context, ids []string) (int64, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

func withOrderedComments(db *gorm.DB) *gorm.DB {
	return db.Preload("Comments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("seq ASC")
	})
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Create", "posts")
	defer span.End()
	defer observability.TrackQuery("create", "posts")()

	post.Comments = nil
	if err := r.db.WithContext(ctx).Omit("Comments").Create(post).Error; err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("insert post", err)
	}
	post.Normalize()
	r.log.LogCreate(ctx, map[string]any{"post_id": post.ID, "author_id": post.AuthorID})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "GetByID", "posts")
	defer span.End()
	span.SetAttributes(attribute.String("post.id", id))

	post, err := cache.Aside(ctx, cache.PostKey(id), cache.PostTTL, func(ctx context.Context) (models.Post, error) {
		defer observability.TrackQuery("get", "posts")()
		var p models.Post
		if err := withOrderedComments(r.db.WithContext(ctx)).Where("id = ?", id).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return p, models.NewNotFoundError("Post", id)
			}
			return p, models.NewPersistenceError("read post", err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	// Concurrent loads share one result; copy comments before normalizing.
	post.Comments = slices.Clone(post.Comments)
	post.Normalize()
	return &post, nil
}

func (r *postRepository) ListRecent(ctx context.Context, before *time.Time, limit int) ([]*models.Post, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "ListRecent", "posts")
	defer span.End()
	defer observability.TrackQuery("list_recent", "posts")()

	q := withOrderedComments(r.db.WithContext(ctx))
	if before != nil {
		q = q.Where("created_at < ?", before.UTC())
	}
	var posts []*models.Post
	if err := q.Order("created_at DESC").Limit(limit).Find(&posts).Error; err != nil {
		span.RecordError(err)
		return nil, models.NewPersistenceError("list posts", err)
	}
	for _, p := range posts {
		p.Normalize()
	}
	return posts, nil
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string) ([]*models.Post, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "ListByAuthor", "posts")
	defer span.End()
	defer observability.TrackQuery("list_by_author", "posts")()

	var posts []*models.Post
	err := withOrderedComments(r.db.WithContext(ctx)).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Find(&posts).Error
	if err != nil {
		span.RecordError(err)
		return nil, models.NewPersistenceError("list author posts", err)
	}
	for _, p := range posts {
		p.Normalize()
	}
	return posts, nil
}

// Delete removes the post and its comments. Deleting a missing post is not an error.
func (r *postRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DeleteBatch(ctx, []string{id})
	return err
}

// IncrementCounter adds one to the kind's counter unless it is already at ceiling.
// It reports whether a row was updated.
func (r *postRepository) IncrementCounter(ctx context.Context, id string, kind models.ReactionKind, ceiling int) (bool, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "IncrementCounter", "posts")
	defer span.End()
	defer observability.TrackQuery("increment", "posts")()

	col := kind.Column()
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND "+col+" < ?", id, ceiling).
		UpdateColumn(col, gorm.Expr(col+" + 1"))
	if res.Error != nil {
		span.RecordError(res.Error)
		r.log.LogError(ctx, res.Error, "increment")
		return false, models.NewPersistenceError("update counter", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the counter is at the ceiling or the post is gone.
		return false, r.mustExist(ctx, id)
	}
	cache.InvalidatePost(ctx, id)
	return true, nil
}

func (r *postRepository) mustExist(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return models.NewPersistenceError("read post", err)
	}
	if n == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

// AddToCounter increments the kind's counter without checking any ceiling.
func (r *postRepository) AddToCounter(ctx context.Context, id string, kind models.ReactionKind) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "AddToCounter", "posts")
	defer span.End()
	defer observability.TrackQuery("increment", "posts")()

	col := kind.Column()
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn(col, gorm.Expr(col+" + 1"))
	if res.Error != nil {
		span.RecordError(res.Error)
		r.log.LogError(ctx, res.Error, "increment")
		return models.NewPersistenceError("update counter", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	cache.InvalidatePost(ctx, id)
	return nil
}

// ListExpired returns up to limit posts created before cutoff, oldest first, without comments.
func (r *postRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Post, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "ListExpired", "posts")
	defer span.End()
	defer observability.TrackQuery("list_expired", "posts")()

	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		span.RecordError(err)
		return nil, models.NewPersistenceError("list expired posts", err)
	}
	return posts, nil
}

// DeleteBatch removes the posts and their comments in one transaction.
func (r *postRepository) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, span := observability.TraceRepositoryMethod(ctx, "DeleteBatch", "posts")
	defer span.End()
	defer observability.TrackQuery("delete", "posts")()
	span.SetAttributes(attribute.Int("batch.size", len(ids)))

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id IN ?", ids).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Post{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "delete")
		return 0, models.NewPersistenceError("delete posts", err)
	}

	for _, id := range ids {
		cache.InvalidatePost(ctx, id)
	}
	r.log.LogDelete(ctx, map[string]any{"post_ids": ids, "deleted": deleted})
	return deleted, nil
}
