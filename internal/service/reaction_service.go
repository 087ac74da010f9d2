package service

import (
	"context"
	"log/slog"

	"realmeal/internal/featureflags"
	"realmeal/internal/models"
	"realmeal/internal/observability"
	"realmeal/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Reasons a reaction was not applied.
const (
	ReasonOwnPost = "own_post"
	ReasonCapped  = "capped"
)

// ReactionResult reports whether a reaction changed a counter.
type ReactionResult struct {
	Applied bool                `json:"applied"`
	Reason  string              `json:"reason,omitempty"`
	Kind    models.ReactionKind `json:"kind"`
}

// ReactionService applies real/fake reactions to posts.
type ReactionService struct {
	posts *PostService
	repo  repository.PostRepository
	flags *featureflags.Manager
}

// NewReactionService wires the reaction counter. flags may be nil.
func NewReactionService(posts *PostService, repo repository.PostRepository, flags *featureflags.Manager) *ReactionService {
	return &ReactionService{posts: posts, repo: repo, flags: flags}
}

// React adds one to the kind's counter on postID on behalf of actorID. Authors cannot
// react to their own posts and counters stop at models.MaxReactionCount; both cases
// are reported as an unapplied result rather than an error.
func (s *ReactionService) React(ctx context.Context, postID, actorID string, kind models.ReactionKind) (*ReactionResult, error) {
	ctx, end := observability.StartOperation(ctx, "reactions", "react",
		attribute.String("post.id", postID),
		attribute.String("reaction.kind", string(kind)),
	)
	result, err := s.react(ctx, postID, actorID, kind)
	if result != nil {
		observability.AnnotateSpan(ctx, attribute.Bool("reaction.applied", result.Applied))
	}
	end(err)
	return result, err
}

func (s *ReactionService) react(ctx context.Context, postID, actorID string, kind models.ReactionKind) (*ReactionResult, error) {
	kind, err := models.ParseReactionKind(string(kind))
	if err != nil {
		return nil, err
	}
	if actorID == "" {
		return nil, models.NewUnauthorizedError("Sign in to react")
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}

	result := &ReactionResult{Kind: kind}
	if post.AuthorID == actorID {
		result.Reason = ReasonOwnPost
		s.record(kind, result)
		return result, nil
	}

	if s.flags.Enabled(featureflags.ReactionCapBestEffort, actorID) {
		result.Applied, err = s.reactBestEffort(ctx, post, kind)
	} else {
		result.Applied, err = s.repo.IncrementCounter(ctx, post.ID, kind, models.MaxReactionCount)
	}
	if models.IsNotFound(err) {
		// Expired or removed after it was read.
		return nil, err
	}
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "reaction failed",
			slog.String("post_id", post.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, asPersistence("update counter", err)
	}
	if !result.Applied {
		result.Reason = ReasonCapped
	}
	s.record(kind, result)
	return result, nil
}

// reactBestEffort checks the cap against the value read moments ago and then
// increments unconditionally. Concurrent reactors near the cap can overshoot it.
func (s *ReactionService) reactBestEffort(ctx context.Context, post *models.Post, kind models.ReactionKind) (bool, error) {
	if post.Count(kind) >= models.MaxReactionCount {
		return false, nil
	}
	if err := s.repo.AddToCounter(ctx, post.ID, kind); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReactionService) record(kind models.ReactionKind, r *ReactionResult) {
	outcome := "applied"
	if !r.Applied {
		outcome = r.Reason
	}
	observability.Reactions.WithLabelValues(string(kind), outcome).Inc()
}
