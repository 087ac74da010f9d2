package service

import (
	"context"

	"realmeal/internal/models"
	"realmeal/internal/repository"
	"realmeal/internal/validation"
)

// ProfileService reads and updates public user profiles.
type ProfileService struct {
	users repository.UserRepository
	posts *PostService
}

// NewProfileService wires profile reads and nickname updates.
func NewProfileService(users repository.UserRepository, posts *PostService) *ProfileService {
	return &ProfileService{users: users, posts: posts}
}

type updateProfileInput struct {
	Nickname string `json:"nickname" validate:"required,max=40"`
}

// UpdateProfile sets the nickname of identityID.
func (s *ProfileService) UpdateProfile(ctx context.Context, identityID, nickname string) (*models.Profile, error) {
	if identityID == "" {
		return nil, models.NewUnauthorizedError("Sign in to edit your profile")
	}
	in := updateProfileInput{Nickname: validation.TrimText(nickname)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.users.UpdateNickname(ctx, identityID, in.Nickname); err != nil {
		return nil, asPersistence("update profile", err)
	}
	return s.GetProfile(ctx, identityID)
}

// GetProfile returns the public profile of identityID with their live posts.
func (s *ProfileService) GetProfile(ctx context.Context, identityID string) (*models.Profile, error) {
	user, err := s.users.GetByID(ctx, identityID)
	if err != nil {
		return nil, asPersistence("read user", err)
	}
	posts, err := s.posts.ListByAuthor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &models.Profile{
		ID:          user.ID,
		Nickname:    user.Nickname,
		IsAnonymous: user.IsAnonymous,
		Posts:       posts,
	}, nil
}
