package repository

import (
	"context"
	"errors"

	"realmeal/internal/models"
	"realmeal/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*models.User, error)
	MarkVerified(ctx context.Context, id string) error
	UpdateNickname(ctx context.Context, id, nickname string) error
	DeleteUnverified(ctx context.Context, id string) error
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("create", "users")()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewConflictError("Email is already in use")
		}
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("create user", err)
	}
	r.log.LogCreate(ctx, map[string]any{"user_id": user.ID, "anonymous": user.IsAnonymous})
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	defer observability.TrackQuery("get", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewPersistenceError("read user", err)
	}
	return &user, nil
}

// GetByEmail returns (nil, nil) when no user has the address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

// GetByVerificationToken returns (nil, nil) when the token is unknown.
func (r *userRepository) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	return r.findOne(ctx, "verification_token = ?", token)
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	defer observability.TrackQuery("get", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewPersistenceError("read user", err)
	}
	return &user, nil
}

func (r *userRepository) MarkVerified(ctx context.Context, id string) error {
	defer observability.TrackQuery("update", "users")()
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"email_verified": true, "verification_token": nil}).Error
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewPersistenceError("verify user", err)
	}
	r.log.LogUpdate(ctx, map[string]any{"user_id": id, "email_verified": true})
	return nil
}

func (r *userRepository) UpdateNickname(ctx context.Context, id, nickname string) error {
	defer observability.TrackQuery("update", "users")()
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("nickname", nickname)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return models.NewPersistenceError("update profile", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	r.log.LogUpdate(ctx, map[string]any{"user_id": id, "nickname": nickname})
	return nil
}

// DeleteUnverified removes an account that never completed verification.
// Verified and anonymous accounts are left alone.
func (r *userRepository) DeleteUnverified(ctx context.Context, id string) error {
	defer observability.TrackQuery("delete", "users")()
	err := r.db.WithContext(ctx).
		Where("id = ? AND email_verified = ? AND is_anonymous = ?", id, false, false).
		Delete(&models.User{}).Error
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return models.NewPersistenceError("delete user", err)
	}
	r.log.LogDelete(ctx, map[string]any{"user_id": id})
	return nil
}
