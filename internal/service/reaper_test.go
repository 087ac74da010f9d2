package service

import (
	"context"
	"testing"
	"time"

	"realmeal/internal/events"
	"realmeal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaper_RunOnceDeletesOnlyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live := []*models.Post{f.seed(t, "a", 0), f.seed(t, "b", 364*24*time.Hour)}
	var expired []*models.Post
	for i := 0; i < 5; i++ {
		expired = append(expired, f.seed(t, "c", expiredAge+time.Duration(i)*time.Hour))
	}
	_, err := f.commentSvc.Append(ctx, live[0].ID, "b", "keep me")
	require.NoError(t, err)
	require.NoError(t, f.comments.Append(ctx, &models.Comment{PostID: expired[0].ID, AuthorID: "a", Text: "gone"}))

	reaper := NewReaper(f.posts, f.postSvc, time.Hour, 2)
	n, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.EqualValues(t, 2, f.countPosts(t))
	for _, p := range live {
		_, err := f.posts.GetByID(ctx, p.ID)
		assert.NoError(t, err)
	}
	var orphaned int64
	require.NoError(t, f.db.Model(&models.Comment{}).Where("post_id = ?", expired[0].ID).Count(&orphaned).Error)
	assert.Zero(t, orphaned)

	published := f.subjects(events.SubjectPostExpired)
	require.Len(t, published, 5)
	for _, e := range published {
		assert.Equal(t, "reaper", e.Payload.(events.PostExpired).Path)
	}

	n, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_BackgroundWorker(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", expiredAge)
	f.seed(t, "a", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper := NewReaper(f.posts, f.postSvc, time.Hour, 0)
	reaper.StartBackgroundWorker(ctx)
	reaper.StartBackgroundWorker(ctx)

	assert.Eventually(t, func() bool {
		return len(f.subjects(events.SubjectPostExpired)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, f.countPosts(t))
}

func TestReaper_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", expiredAge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReaper(f.posts, f.postSvc, 0, 0).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
