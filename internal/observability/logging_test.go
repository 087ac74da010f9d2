package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GlobalLogger
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() {
		GlobalLogger = prev
		SetRepoLogging(true)
	})
	return &buf
}

func TestRepoLogger(t *testing.T) {
	buf := captureGlobal(t)
	l := NewRepoLogger("posts")
	ctx := context.Background()

	l.LogCreate(ctx, map[string]any{"post_id": "p1", "author_id": "u1"})
	assert.Contains(t, buf.String(), `msg="posts create" table=posts op=create author_id=u1 post_id=p1`)

	buf.Reset()
	SetRepoLogging(false)
	l.LogDelete(ctx, map[string]any{"deleted": 3})
	assert.Empty(t, buf.String())

	l.LogError(ctx, errors.New("boom"), "increment")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestAsyncOperationLogging(t *testing.T) {
	buf := captureGlobal(t)
	ctx := context.Background()

	LogAsyncOperationStart(ctx, "reaper.sweep", nil)
	LogAsyncOperationEnd(ctx, "reaper.sweep", map[string]any{"deleted": 4})
	LogAsyncOperationError(ctx, "reaper.sweep", errors.New("db down"), nil)

	out := buf.String()
	assert.Contains(t, out, `msg="reaper.sweep started" job=reaper.sweep phase=start`)
	assert.Contains(t, out, "phase=end deleted=4")
	assert.Contains(t, out, `phase=error error="db down"`)
}
