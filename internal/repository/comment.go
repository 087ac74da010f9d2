package repository

import (
	"context"

	"realmeal/internal/cache"
	"realmeal/internal/models"
	"realmeal/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Append(ctx context.Context, comment *models.Comment) error
	ListByPost(ctx context.Context, postID string) ([]models.Comment, error)
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger("comments")}
}

// Append inserts a single comment row. Concurrent appends to the same post never
// overwrite each other.
func (r *commentRepository) Append(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Append", "comments")
	defer span.End()
	defer observability.TrackQuery("append", "comments")()

	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("append comment", err)
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	cache.InvalidatePost(ctx, comment.PostID)
	r.log.LogCreate(ctx, map[string]any{"comment_id": comment.ID, "post_id": comment.PostID})
	return nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	defer observability.TrackQuery("list", "comments")()

	comments := []models.Comment{}
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("seq ASC").Find(&comments).Error
	if err != nil {
		return nil, models.NewPersistenceError("list comments", err)
	}
	for i := range comments {
		comments[i].CreatedAt = comments[i].CreatedAt.UTC()
	}
	return comments, nil
}
