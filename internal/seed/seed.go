package seed

import (
	"context"
	"fmt"
	"log/slog"

	"realmeal/internal/models"
	"realmeal/internal/observability"

	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	NumUsers        int
	NumAnonymous    int
	NumPosts        int
	CommentsPerPost int
	// MaxDays bounds how far back post timestamps are spread.
	MaxDays     int
	ShouldClean bool
	// FastHash uses the minimum bcrypt cost.
	FastHash bool
	// RandSeed makes generated data reproducible when non-zero.
	RandSeed int64
}

// Summary counts what a seeding run created.
type Summary struct {
	Users    int
	Posts    int
	Comments int
}

// ClearAll deletes every comment, post and user.
func ClearAll(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&models.Comment{}, &models.Post{}, &models.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// Seed fills the database with generated users, posts and comments.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	if opts.ShouldClean {
		if err := ClearAll(ctx, db); err != nil {
			return nil, err
		}
	}

	f := NewFactory(db, opts)
	summary := &Summary{}

	users := make([]*models.User, 0, opts.NumUsers+opts.NumAnonymous)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return summary, fmt.Errorf("create user: %w", err)
		}
		users = append(users, u)
	}
	for i := 0; i < opts.NumAnonymous; i++ {
		u, err := f.CreateAnonymousUser(ctx)
		if err != nil {
			return summary, fmt.Errorf("create anonymous user: %w", err)
		}
		users = append(users, u)
	}
	summary.Users = len(users)
	if len(users) == 0 {
		return summary, nil
	}

	for i := 0; i < opts.NumPosts; i++ {
		author := users[f.rng.Intn(len(users))]
		post, err := f.CreatePost(ctx, author)
		if err != nil {
			return summary, fmt.Errorf("create post: %w", err)
		}
		summary.Posts++

		for j := 0; j < opts.CommentsPerPost; j++ {
			commenter := users[f.rng.Intn(len(users))]
			if _, err := f.CreateComment(ctx, commenter, post); err != nil {
				return summary, fmt.Errorf("create comment: %w", err)
			}
			summary.Comments++
		}
	}

	observability.GlobalLogger.InfoContext(ctx, "seed complete",
		slog.Int("users", summary.Users),
		slog.Int("posts", summary.Posts),
		slog.Int("comments", summary.Comments),
	)
	return summary, nil
}
