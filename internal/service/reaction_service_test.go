package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"realmeal/internal/featureflags"
	"realmeal/internal/models"
	"realmeal/internal/repository"
	"realmeal/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setCount(t *testing.T, db *gorm.DB, postID string, kind models.ReactionKind, n int) {
	t.Helper()
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", postID).UpdateColumn(kind.Column(), n).Error)
}

func TestReactionService_RamenScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.postSvc.Create(ctx, CreatePostInput{
		AuthorID:    "user-a",
		Description: "ramen",
		Filename:    "ramen.png",
		Image:       testutil.TinyPNG(t, 3, 3),
	})
	require.NoError(t, err)

	res, err := f.reactions.React(ctx, post.ID, "user-b", models.ReactionReal)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assertCount(t, f, post.ID, models.ReactionReal, 1)

	res, err = f.reactions.React(ctx, post.ID, "user-a", models.ReactionReal)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonOwnPost, res.Reason)
	assertCount(t, f, post.ID, models.ReactionReal, 1)

	for i := 0; i < 998; i++ {
		res, err = f.reactions.React(ctx, post.ID, "user-b", models.ReactionReal)
		require.NoError(t, err)
		require.True(t, res.Applied, "reaction %d", i)
	}
	assertCount(t, f, post.ID, models.ReactionReal, 999)

	res, err = f.reactions.React(ctx, post.ID, "user-b", models.ReactionReal)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonCapped, res.Reason)
	assertCount(t, f, post.ID, models.ReactionReal, 999)
	assertCount(t, f, post.ID, models.ReactionFake, 0)
}

func assertCount(t *testing.T, f *fixture, postID string, kind models.ReactionKind, want int) {
	t.Helper()
	got, err := f.postSvc.GetByID(context.Background(), postID)
	require.NoError(t, err)
	assert.Equal(t, want, got.Count(kind))
}

func TestReactionService_CountersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)

	_, err := f.reactions.React(ctx, post.ID, "user-b", models.ReactionFake)
	require.NoError(t, err)
	_, err = f.reactions.React(ctx, post.ID, "user-c", "FAKE")
	require.NoError(t, err)

	assertCount(t, f, post.ID, models.ReactionFake, 2)
	assertCount(t, f, post.ID, models.ReactionReal, 0)
}

func TestReactionService_ConcurrentReactionsStopAtCap(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, "user-a", 0)
	setCount(t, f.db, post.ID, models.ReactionReal, 990)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.reactions.React(context.Background(), post.ID, "user-b", models.ReactionReal)
			if assert.NoError(t, err) && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 9, applied.Load())
	assertCount(t, f, post.ID, models.ReactionReal, 999)
}

func TestReactionService_BestEffortFlag(t *testing.T) {
	f := newFixtureWithFlags(t, "reaction_cap_best_effort=on")
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)
	setCount(t, f.db, post.ID, models.ReactionReal, 998)

	res, err := f.reactions.React(ctx, post.ID, "user-b", models.ReactionReal)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assertCount(t, f, post.ID, models.ReactionReal, 999)

	res, err = f.reactions.React(ctx, post.ID, "user-b", models.ReactionReal)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonCapped, res.Reason)
}

func TestReactionService_BestEffortCanOvershootOnStaleRead(t *testing.T) {
	f := newFixtureWithFlags(t, "reaction_cap_best_effort=on")
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)
	setCount(t, f.db, post.ID, models.ReactionReal, 998)

	stale, err := f.postSvc.GetByID(ctx, post.ID)
	require.NoError(t, err)
	setCount(t, f.db, post.ID, models.ReactionReal, 999)

	applied, err := f.reactions.reactBestEffort(ctx, stale, models.ReactionReal)
	require.NoError(t, err)
	assert.True(t, applied)
	assertCount(t, f, post.ID, models.ReactionReal, 1000)
}

func TestReactionService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)
	old := f.seed(t, "user-a", expiredAge)

	_, err := f.reactions.React(ctx, post.ID, "user-b", "meh")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	_, err = f.reactions.React(ctx, post.ID, "", models.ReactionReal)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))

	_, err = f.reactions.React(ctx, "missing", "user-b", models.ReactionReal)
	assert.True(t, models.IsNotFound(err))

	_, err = f.reactions.React(ctx, old.ID, "user-b", models.ReactionReal)
	assert.True(t, models.IsNotFound(err))
	assert.EqualValues(t, 1, f.countPosts(t))
}

// vanishingPosts deletes the post just before its counter is touched.
type vanishingPosts struct {
	repository.PostRepository
}

func (r vanishingPosts) IncrementCounter(ctx context.Context, id string, kind models.ReactionKind, ceiling int) (bool, error) {
	if err := r.Delete(ctx, id); err != nil {
		return false, err
	}
	return r.PostRepository.IncrementCounter(ctx, id, kind, ceiling)
}

func (r vanishingPosts) AddToCounter(ctx context.Context, id string, kind models.ReactionKind) error {
	if err := r.Delete(ctx, id); err != nil {
		return err
	}
	return r.PostRepository.AddToCounter(ctx, id, kind)
}

func TestReactionService_PostDeletedMidReactionIsNotFound(t *testing.T) {
	for _, flags := range []string{"", featureflags.ReactionCapBestEffort + "=on"} {
		t.Run("flags="+flags, func(t *testing.T) {
			f := newFixture(t)
			post := f.seed(t, "user-a", 0)
			svc := NewReactionService(f.postSvc, vanishingPosts{f.posts}, featureflags.NewManager(flags))

			res, err := svc.React(context.Background(), post.ID, "user-b", models.ReactionReal)
			assert.Nil(t, res)
			assert.True(t, models.IsNotFound(err))
		})
	}
}
