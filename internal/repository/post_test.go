package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"realmeal/internal/models"
	"realmeal/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func seedPost(t *testing.T, repo PostRepository, authorID string, createdAt time.Time) *models.Post {
	t.Helper()
	p := &models.Post{
		AuthorID:    authorID,
		ImageKey:    "posts/1_ramen.png",
		ImageURL:    "https://blobs.test/posts/1_ramen.png",
		Description: "ramen",
		CreatedAt:   createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestPostRepository_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	created := &models.Post{
		AuthorID:    "author-a",
		ImageKey:    "posts/1_ramen.png",
		ImageURL:    "https://blobs.test/posts/1_ramen.png",
		Description: "ramen",
	}
	require.NoError(t, repo.Create(ctx, created))
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ramen", got.Description)
	assert.Equal(t, "author-a", got.AuthorID)
	assert.Equal(t, created.ImageKey, got.ImageKey)
	assert.Zero(t, got.RealCount)
	assert.Zero(t, got.FakeCount)
	assert.NotNil(t, got.Comments)
	assert.Empty(t, got.Comments)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestPostRepository_GetByID_NotFound(t *testing.T) {
	repo := NewPostRepository(testutil.NewTestDB(t))

	post, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, post)
	assert.True(t, models.IsNotFound(err))
}

func TestPostRepository_GetByID_ClosedDatabase(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.GetByID(context.Background(), "any")
	require.Error(t, err)
	assert.Equal(t, models.CodePersistence, models.ErrorCode(err))
}

func TestPostRepository_ListRecent_Cursor(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		seedPost(t, repo, "author-a", base.Add(-time.Duration(i)*time.Minute))
	}

	first, err := repo.ListRecent(ctx, nil, 21)
	require.NoError(t, err)
	require.Len(t, first, 21)
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].CreatedAt.After(first[i].CreatedAt))
	}
	assert.True(t, first[0].CreatedAt.Equal(base))

	cursor := first[19].CreatedAt
	second, err := repo.ListRecent(ctx, &cursor, 21)
	require.NoError(t, err)
	require.Len(t, second, 5)
	for _, p := range second {
		assert.True(t, p.CreatedAt.Before(cursor))
	}
}

func TestPostRepository_ListByAuthor(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	now := time.Now().UTC()

	older := seedPost(t, repo, "author-a", now.Add(-2*time.Hour))
	newer := seedPost(t, repo, "author-a", now.Add(-time.Hour))
	seedPost(t, repo, "author-b", now)

	posts, err := repo.ListByAuthor(context.Background(), "author-a")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID)
	assert.Equal(t, older.ID, posts[1].ID)
}

func TestPostRepository_IncrementCounter_Ceiling(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	p := seedPost(t, repo, "author-a", time.Now().UTC())
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", p.ID).Update("real_count", 998).Error)

	ok, err := repo.IncrementCounter(ctx, p.ID, models.ReactionReal, models.MaxReactionCount)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementCounter(ctx, p.ID, models.ReactionReal, models.MaxReactionCount)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.IncrementCounter(ctx, p.ID, models.ReactionFake, models.MaxReactionCount)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 999, got.RealCount)
	assert.Equal(t, 1, got.FakeCount)
}

func TestPostRepository_IncrementCounter_MissingPost(t *testing.T) {
	repo := NewPostRepository(testutil.NewTestDB(t))

	ok, err := repo.IncrementCounter(context.Background(), "missing", models.ReactionReal, models.MaxReactionCount)
	assert.True(t, models.IsNotFound(err))
	assert.False(t, ok)

	err = repo.AddToCounter(context.Background(), "missing", models.ReactionFake)
	assert.True(t, models.IsNotFound(err))
}

func TestPostRepository_IncrementCounter_AtCeilingIsNotAnError(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	p := seedPost(t, repo, "author-a", time.Now().UTC())
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", p.ID).Update("real_count", models.MaxReactionCount).Error)

	ok, err := repo.IncrementCounter(context.Background(), p.ID, models.ReactionReal, models.MaxReactionCount)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostRepository_IncrementCounter_ConcurrentNeverPassesCeiling(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	p := seedPost(t, repo, "author-a", time.Now().UTC())
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", p.ID).Update("fake_count", 990).Error)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementCounter(ctx, p.ID, models.ReactionFake, models.MaxReactionCount)
			if err == nil && ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 999, got.FakeCount)
	assert.Equal(t, 9, applied)
}

func TestPostRepository_AddToCounter_IgnoresCeiling(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	p := seedPost(t, repo, "author-a", time.Now().UTC())
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", p.ID).Update("real_count", 999).Error)

	require.NoError(t, repo.AddToCounter(ctx, p.ID, models.ReactionReal))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, got.RealCount)
}

func TestPostRepository_IncrementCounter_SQL(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET "real_count"=real_count + 1 WHERE id = $1 AND real_count < $2`)).
		WithArgs("p1", 999).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.IncrementCounter(context.Background(), "p1", models.ReactionReal, models.MaxReactionCount)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_DeleteRemovesComments(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	comments := NewCommentRepository(db)
	ctx := context.Background()

	p := seedPost(t, repo, "author-a", time.Now().UTC())
	require.NoError(t, comments.Append(ctx, &models.Comment{PostID: p.ID, AuthorID: "b", Text: "looks good"}))

	require.NoError(t, repo.Delete(ctx, p.ID))
	require.NoError(t, repo.Delete(ctx, p.ID))

	_, err := repo.GetByID(ctx, p.ID)
	assert.True(t, models.IsNotFound(err))

	var remaining int64
	require.NoError(t, db.Model(&models.Comment{}).Where("post_id = ?", p.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestPostRepository_ListExpiredAndDeleteBatch(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	old1 := seedPost(t, repo, "author-a", now.Add(-400*24*time.Hour))
	old2 := seedPost(t, repo, "author-b", now.Add(-366*24*time.Hour))
	fresh := seedPost(t, repo, "author-a", now.Add(-24*time.Hour))

	cutoff := now.Add(-models.DefaultRetention)
	expired, err := repo.ListExpired(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, old1.ID, expired[0].ID)
	assert.Equal(t, old2.ID, expired[1].ID)

	limited, err := repo.ListExpired(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := repo.DeleteBatch(ctx, []string{old1.ID, old2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)

	n, err = repo.DeleteBatch(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
