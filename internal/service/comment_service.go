package service

import (
	"context"
	"time"

	"realmeal/internal/events"
	"realmeal/internal/models"
	"realmeal/internal/observability"
	"realmeal/internal/repository"
	"realmeal/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// CommentService appends and lists comments on live posts.
type CommentService struct {
	posts    *PostService
	comments repository.CommentRepository
}

// NewCommentService wires the comment ledger.
func NewCommentService(posts *PostService, comments repository.CommentRepository) *CommentService {
	return &CommentService{posts: posts, comments: comments}
}

type appendCommentInput struct {
	AuthorID string `json:"author_id" validate:"required"`
	Text     string `json:"text" validate:"required,max=1000"`
}

// Append adds a comment to the end of postID's comment list.
func (s *CommentService) Append(ctx context.Context, postID, authorID, text string) (*models.Comment, error) {
	ctx, end := observability.StartOperation(ctx, "comments", "append", attribute.String("post.id", postID))
	comment, err := s.append(ctx, postID, authorID, text)
	end(err)
	return comment, err
}

func (s *CommentService) append(ctx context.Context, postID, authorID, text string) (*models.Comment, error) {
	in := appendCommentInput{AuthorID: authorID, Text: validation.TrimText(text)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		PostID:    post.ID,
		AuthorID:  in.AuthorID,
		Text:      in.Text,
		CreatedAt: s.posts.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.comments.Append(ctx, comment); err != nil {
		return nil, asPersistence("append comment", err)
	}
	observability.CommentsAppended.Inc()

	s.posts.publish(ctx, events.SubjectCommentCreated, events.CommentCreated{
		ID:        comment.ID,
		PostID:    comment.PostID,
		AuthorID:  comment.AuthorID,
		CreatedAt: comment.CreatedAt,
	})
	return comment, nil
}

// List returns postID's comments in append order.
func (s *CommentService) List(ctx context.Context, postID string) ([]models.Comment, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByPost(ctx, post.ID)
	if err != nil {
		return nil, asPersistence("list comments", err)
	}
	return comments, nil
}
