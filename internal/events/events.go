// Package events publishes domain events to the message broker.
package events

import (
	"context"
	"time"
)

// NATS subjects.
const (
	SubjectPostCreated           = "post.created"
	SubjectPostExpired           = "post.expired"
	SubjectCommentCreated        = "comment.created"
	SubjectVerificationRequested = "identity.verification_requested"
)

// Publisher delivers an event payload on a subject. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// PostCreated is published after a post is stored.
type PostCreated struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// PostExpired is published when an expired post is deleted. Path is "read" or "reaper".
type PostExpired struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Path     string `json:"path"`
}

// CommentCreated is published after a comment is appended.
type CommentCreated struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationRequested asks the mail worker to deliver a verification link.
type VerificationRequested struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	VerifyURL string `json:"verify_url"`
}
