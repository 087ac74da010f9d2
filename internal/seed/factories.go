// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"realmeal/internal/models"
	"realmeal/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded email account.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them through the repositories.
type Factory struct {
	db       *gorm.DB
	users    repository.UserRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	opts     Options
	faker    *gofakeit.Faker
	rng      *rand.Rand
	now      func() time.Time
}

// NewFactory creates a Factory bound to db. A zero opts.RandSeed seeds from the clock.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		db:       db,
		users:    repository.NewUserRepository(db),
		posts:    repository.NewPostRepository(db),
		comments: repository.NewCommentRepository(db),
		opts:     opts,
		faker:    gofakeit.New(seed),
		// #nosec G404: acceptable for seeding
		rng: rand.New(rand.NewSource(seed)),
		now: models.NowUTC,
	}
}

func (f *Factory) hashPassword(password string) (string, error) {
	cost := bcrypt.DefaultCost
	if f.opts.FastHash {
		cost = bcrypt.MinCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser persists a verified email account with DefaultPassword.
// Optional override functions may modify the user before saving.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	hash, err := f.hashPassword(DefaultPassword)
	if err != nil {
		return nil, err
	}
	email := f.faker.Email()
	user := &models.User{
		Email:         &email,
		PasswordHash:  hash,
		EmailVerified: true,
		Nickname:      truncate(f.faker.Username(), 40),
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateAnonymousUser persists an anonymous account.
func (f *Factory) CreateAnonymousUser(ctx context.Context) (*models.User, error) {
	user := &models.User{IsAnonymous: true}
	if err := f.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// BuildPost constructs a post by author with a realistic age but does not persist it.
func (f *Factory) BuildPost(author *models.User, overrides ...func(*models.Post)) *models.Post {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	age := time.Duration(f.rng.Intn(maxDays))*24*time.Hour +
		time.Duration(f.rng.Intn(24))*time.Hour +
		time.Duration(f.rng.Intn(60))*time.Minute

	key := "seed/" + f.faker.UUID() + ".jpg"
	post := &models.Post{
		AuthorID:    author.ID,
		ImageKey:    key,
		ImageURL:    fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.faker.UUID()),
		Description: truncate(f.mealDescription(), 2000),
		RealCount:   f.rng.Intn(models.MaxReactionCount + 1),
		FakeCount:   f.rng.Intn(models.MaxReactionCount + 1),
		CreatedAt:   f.now().Add(-age),
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

func (f *Factory) mealDescription() string {
	return fmt.Sprintf("%s %s. %s", f.faker.AdjectiveDescriptive(), f.faker.Dinner(), f.faker.Sentence(8))
}

// CreatePost builds and persists a post by author.
func (f *Factory) CreatePost(ctx context.Context, author *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := f.BuildPost(author, overrides...)
	if err := f.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// CreateComment appends a comment by author to post.
func (f *Factory) CreateComment(ctx context.Context, author *models.User, post *models.Post, overrides ...func(*models.Comment)) (*models.Comment, error) {
	createdAt := post.CreatedAt.Add(time.Duration(1+f.rng.Intn(600)) * time.Minute)
	if now := f.now(); createdAt.After(now) {
		createdAt = now
	}
	comment := &models.Comment{
		PostID:    post.ID,
		AuthorID:  author.ID,
		Text:      truncate(f.faker.Sentence(8), 1000),
		CreatedAt: createdAt,
	}
	for _, override := range overrides {
		override(comment)
	}
	if err := f.comments.Append(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
