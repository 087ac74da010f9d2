package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"realmeal/internal/events"
	"realmeal/internal/featureflags"
	"realmeal/internal/models"
	"realmeal/internal/repository"
	"realmeal/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	posts    repository.PostRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	blobs    *testutil.BlobStoreStub
	events   *events.Recorder
	now      time.Time

	postSvc    *PostService
	reactions  *ReactionService
	commentSvc *CommentService
	profileSvc *ProfileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithFlags(t, "")
}

func newFixtureWithFlags(t *testing.T, flags string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		db:       db,
		posts:    repository.NewPostRepository(db),
		comments: repository.NewCommentRepository(db),
		users:    repository.NewUserRepository(db),
		blobs:    testutil.NewBlobStoreStub(),
		events:   &events.Recorder{},
		now:      fixedNow,
	}
	f.postSvc = NewPostService(f.posts, f.blobs, f.events, WithClock(func() time.Time { return f.now }))
	f.reactions = NewReactionService(f.postSvc, f.posts, featureflags.NewManager(flags))
	f.commentSvc = NewCommentService(f.postSvc, f.comments)
	f.profileSvc = NewProfileService(f.users, f.postSvc)
	return f
}

// seed inserts a post directly with the given age relative to the fixture clock.
func (f *fixture) seed(t *testing.T, authorID string, age time.Duration) *models.Post {
	t.Helper()
	p := &models.Post{
		AuthorID:    authorID,
		ImageKey:    "posts/1_meal.png",
		ImageURL:    "https://blobs.test/posts/1_meal.png",
		Description: "meal",
		CreatedAt:   f.now.Add(-age),
	}
	require.NoError(t, f.posts.Create(context.Background(), p))
	return p
}

func (f *fixture) countPosts(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Post{}).Count(&n).Error)
	return n
}

func (f *fixture) subjects(subject string) []events.Recorded {
	var out []events.Recorded
	for _, e := range f.events.Events() {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}

// failingPostRepo fails Create and delegates everything else.
type failingPostRepo struct {
	repository.PostRepository
}

func (failingPostRepo) Create(context.Context, *models.Post) error {
	return errors.New("connection reset")
}

const expiredAge = 366 * 24 * time.Hour
