package cache

import (
	"context"
	"time"

	"realmeal/internal/observability"
)

// PostTTL is short so counter changes made by other replicas surface quickly.
const PostTTL = 30 * time.Second

// PostKey holds a hydrated post with its comments.
func PostKey(postID string) string { return "post:" + postID }

// SessionKey holds one session record, keyed by token id.
func SessionKey(jti string) string { return "session:" + jti }

// IdentitySessionsKey is the set of token ids issued to one identity.
func IdentitySessionsKey(identityID string) string { return "session:identity:" + identityID }

// InvalidatePost drops the cached copy of a post after its counters,
// comments or existence change.
func InvalidatePost(ctx context.Context, postID string) {
	if client == nil {
		return
	}
	if err := Invalidate(ctx, PostKey(postID)); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cache invalidate failed", "post_id", postID, "error", err)
	}
}
