// Package service implements the post lifecycle, reactions, comments and profiles
// on top of the repositories, the blob store and the event publisher.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"realmeal/internal/events"
	"realmeal/internal/models"
	"realmeal/internal/observability"
	"realmeal/internal/repository"
	"realmeal/internal/storage"
	"realmeal/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const (
	expiryPathRead   = "read"
	expiryPathReaper = "reaper"
)

// DefaultMaxUploadBytes bounds image uploads when no limit is configured.
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

// PostService owns creation, retrieval with lazy expiry, and listing of posts.
type PostService struct {
	posts     repository.PostRepository
	blobs     storage.BlobStore
	events    events.Publisher
	retention time.Duration
	maxUpload int64
	now       func() time.Time
}

// PostOption customizes a PostService.
type PostOption func(*PostService)

// WithRetention overrides how long posts stay readable.
func WithRetention(d time.Duration) PostOption {
	return func(s *PostService) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithMaxUploadBytes overrides the image size limit.
func WithMaxUploadBytes(n int64) PostOption {
	return func(s *PostService) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) PostOption {
	return func(s *PostService) { s.now = now }
}

// NewPostService wires the post lifecycle. A nil publisher drops events.
func NewPostService(posts repository.PostRepository, blobs storage.BlobStore, pub events.Publisher, opts ...PostOption) *PostService {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	s := &PostService{
		posts:     posts,
		blobs:     blobs,
		events:    pub,
		retention: models.DefaultRetention,
		maxUpload: DefaultMaxUploadBytes,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the configured retention window.
func (s *PostService) Retention() time.Duration {
	return s.retention
}

// CreatePostInput carries a new post and its image.
type CreatePostInput struct {
	AuthorID    string `json:"author_id" validate:"required"`
	Description string `json:"description" validate:"required,max=2000"`
	Filename    string `json:"-"`
	ContentType string `json:"-"`
	Image       []byte `json:"-"`
}

// Create validates the image, uploads it, and stores the post. An upload failure
// leaves no record; an insert failure leaves the uploaded blob behind.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	ctx, end := observability.StartOperation(ctx, "posts", "create",
		attribute.String("author.id", in.AuthorID),
		attribute.Int("image.bytes", len(in.Image)),
	)
	post, err := s.create(ctx, in)
	end(err)
	return post, err
}

func (s *PostService) create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	in.Description = validation.TrimText(in.Description)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	img, err := storage.ValidateImage(in.Image, in.ContentType, s.maxUpload)
	if err != nil {
		return nil, err
	}
	observability.AnnotateSpan(ctx,
		attribute.String("image.type", img.MIME),
		attribute.Int("image.width", img.Width),
		attribute.Int("image.height", img.Height),
	)

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	key := storage.ObjectKey(createdAt, in.Filename)
	ref, err := s.blobs.Upload(ctx, key, in.Image, img.MIME)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "image upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, models.NewStorageError(err)
	}
	url, err := s.blobs.DownloadURL(ctx, ref)
	if err != nil {
		return nil, models.NewStorageError(err)
	}

	post := &models.Post{
		AuthorID:    in.AuthorID,
		ImageKey:    ref,
		ImageURL:    url,
		Description: in.Description,
		CreatedAt:   createdAt,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "post insert failed; uploaded image is orphaned",
			slog.String("image_key", ref),
			slog.String("error", err.Error()),
		)
		return nil, asPersistence("insert post", err)
	}
	observability.PostsCreated.Inc()

	s.publish(ctx, events.SubjectPostCreated, events.PostCreated{
		ID:        post.ID,
		AuthorID:  post.AuthorID,
		ImageURL:  post.ImageURL,
		CreatedAt: post.CreatedAt,
	})
	return post, nil
}

// GetByID returns the post with comments in append order. Missing and expired posts
// are NOT_FOUND; an expired post is deleted on the way out.
func (s *PostService) GetByID(ctx context.Context, id string) (*models.Post, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.NewValidationError("Post id is required")
	}
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, err
		}
		return nil, asPersistence("read post", err)
	}
	if post.Expired(s.now(), s.retention) {
		s.expire(ctx, []*models.Post{post}, expiryPathRead)
		return nil, models.NewNotFoundError("Post", id)
	}
	return post, nil
}

// ListRecent returns one page of posts strictly older than cursor, newest first.
func (s *PostService) ListRecent(ctx context.Context, cursor *time.Time) (*models.PostPage, error) {
	ctx, end := observability.StartOperation(ctx, "posts", "list_recent",
		attribute.Bool("cursor.set", cursor != nil),
	)
	fetched, err := s.posts.ListRecent(ctx, cursor, models.PostsPerPage+1)
	if err != nil {
		err = asPersistence("list posts", err)
		end(err)
		return nil, err
	}
	defer end(nil)

	live := s.dropExpired(ctx, fetched)
	page := &models.PostPage{Posts: live}
	if len(live) > models.PostsPerPage {
		page.Posts = live[:models.PostsPerPage]
		page.HasMore = true
		next := page.Posts[len(page.Posts)-1].CreatedAt
		page.NextCursor = &next
	}
	return page, nil
}

// ListByAuthor returns every live post by authorID, newest first.
func (s *PostService) ListByAuthor(ctx context.Context, authorID string) ([]*models.Post, error) {
	if strings.TrimSpace(authorID) == "" {
		return nil, models.NewValidationError("Author id is required")
	}
	fetched, err := s.posts.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, asPersistence("list author posts", err)
	}
	return s.dropExpired(ctx, fetched), nil
}

func (s *PostService) dropExpired(ctx context.Context, posts []*models.Post) []*models.Post {
	now := s.now()
	live := make([]*models.Post, 0, len(posts))
	var expired []*models.Post
	for _, p := range posts {
		if p.Expired(now, s.retention) {
			expired = append(expired, p)
			continue
		}
		live = append(live, p)
	}
	if len(expired) > 0 {
		s.expire(ctx, expired, expiryPathRead)
	}
	return live
}

// expire deletes the posts. Failures are logged and the caller proceeds as if the
// posts were gone.
func (s *PostService) expire(ctx context.Context, posts []*models.Post, path string) {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	if _, err := s.posts.DeleteBatch(ctx, ids); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to delete expired posts",
			slog.Any("post_ids", ids),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.PostsExpired.WithLabelValues(path).Add(float64(len(posts)))
	for _, p := range posts {
		s.publish(ctx, events.SubjectPostExpired, events.PostExpired{ID: p.ID, AuthorID: p.AuthorID, Path: path})
	}
}

func (s *PostService) publish(ctx context.Context, subject string, payload any) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// ParseCursor reads an RFC 3339 timestamp. An empty string means the first page.
func ParseCursor(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, models.NewValidationError("cursor must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// asPersistence keeps AppErrors raised below and wraps anything else.
func asPersistence(op string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewPersistenceError(op, err)
}
