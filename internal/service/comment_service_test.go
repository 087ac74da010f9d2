package service

import (
	"context"
	"strings"
	"testing"

	"realmeal/internal/events"
	"realmeal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentService_AppendGrowsListByOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)

	seen := map[string]bool{}
	for i, text := range []string{"looks great", "  is that miso?  ", "fake!"} {
		before, err := f.commentSvc.List(ctx, post.ID)
		require.NoError(t, err)

		c, err := f.commentSvc.Append(ctx, post.ID, "user-b", text)
		require.NoError(t, err)
		assert.False(t, seen[c.ID], "comment ids must be unique")
		seen[c.ID] = true
		assert.Equal(t, strings.TrimSpace(text), c.Text)
		assert.True(t, fixedNow.Equal(c.CreatedAt))

		after, err := f.commentSvc.List(ctx, post.ID)
		require.NoError(t, err)
		require.Len(t, after, len(before)+1, "append %d", i)
		assert.Equal(t, c.ID, after[len(after)-1].ID)
	}

	got, err := f.postSvc.GetByID(ctx, post.ID)
	require.NoError(t, err)
	texts := make([]string, len(got.Comments))
	for i, c := range got.Comments {
		texts[i] = c.Text
	}
	assert.Equal(t, []string{"looks great", "is that miso?", "fake!"}, texts)
	assert.Len(t, f.subjects(events.SubjectCommentCreated), 3)
}

func TestCommentService_AppendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seed(t, "user-a", 0)

	for _, text := range []string{"", "   \n\t", strings.Repeat("a", 1001)} {
		_, err := f.commentSvc.Append(ctx, post.ID, "user-b", text)
		assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	}
	_, err := f.commentSvc.Append(ctx, post.ID, "", "hi")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	comments, err := f.commentSvc.List(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestCommentService_MissingOrExpiredPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.seed(t, "user-a", expiredAge)

	_, err := f.commentSvc.Append(ctx, "missing", "user-b", "hello")
	assert.True(t, models.IsNotFound(err))

	_, err = f.commentSvc.Append(ctx, old.ID, "user-b", "hello")
	assert.True(t, models.IsNotFound(err))

	_, err = f.commentSvc.List(ctx, old.ID)
	assert.True(t, models.IsNotFound(err))
}
