package identity

import (
	"context"
	"strings"
	"sync"

	"realmeal/internal/models"
	"realmeal/internal/observability"
	"realmeal/internal/repository"
	"realmeal/internal/validation"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type subscription struct {
	id uint64
	fn Listener
}

// Service is the Provider backed by the users table.
type Service struct {
	users    repository.UserRepository
	mailer   Mailer
	hashCost int

	mu     sync.Mutex
	subs   []subscription
	nextID uint64
}

// Option configures a Service.
type Option func(*Service)

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// NewService creates the identity provider.
func NewService(users repository.UserRepository, mailer Mailer, opts ...Option) *Service {
	s := &Service{
		users:    users,
		mailer:   mailer,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Provider = (*Service)(nil)

// Subscribe registers l. Listeners run synchronously in registration order.
func (s *Service) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) notify(kind ChangeKind, id *Identity) {
	s.mu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	change := Change{Kind: kind, Identity: id}
	for _, sub := range subs {
		sub.fn(change)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) SignInAnonymous(ctx context.Context) (*Identity, error) {
	user := &models.User{IsAnonymous: true}
	if err := s.users.Create(ctx, user); err != nil {
		observability.AuthEvents.WithLabelValues("anonymous", "error").Inc()
		return nil, err
	}
	id := FromUser(user)
	observability.AuthEvents.WithLabelValues("anonymous", "ok").Inc()
	s.notify(ChangeSignedIn, id)
	return id, nil
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		observability.AuthEvents.WithLabelValues("login", "invalid_credentials").Inc()
		return nil, models.NewAuthError("Invalid email or password", ErrInvalidCredentials)
	}
	if !user.EmailVerified {
		observability.AuthEvents.WithLabelValues("login", "unverified").Inc()
		return nil, models.NewAuthError("Email address is not verified", ErrEmailNotVerified)
	}

	id := FromUser(user)
	observability.AuthEvents.WithLabelValues("login", "ok").Inc()
	s.notify(ChangeSignedIn, id)
	return id, nil
}

// SignUp creates an unverified account and sends its verification link. The
// account cannot sign in until the link is followed.
func (s *Service) SignUp(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return models.NewAuthError("Invalid email address", ErrInvalidEmail)
	}
	if err := validation.ValidatePassword(password); err != nil {
		observability.AuthEvents.WithLabelValues("signup", "weak_password").Inc()
		return models.NewAuthError(err.Error(), ErrWeakPassword)
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		observability.AuthEvents.WithLabelValues("signup", "duplicate").Inc()
		return models.NewConflictError("Email is already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	token := uuid.NewString()
	user := &models.User{
		Email:             &email,
		PasswordHash:      string(hash),
		VerificationToken: &token,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return err
	}

	if err := s.mailer.SendVerification(ctx, user.ID, email, token); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to send verification email", "user_id", user.ID, "error", err)
		observability.AuthEvents.WithLabelValues("signup", "mail_failed").Inc()
		// Without the link the account can never be verified; free the address for a retry.
		if derr := s.users.DeleteUnverified(context.WithoutCancel(ctx), user.ID); derr != nil {
			observability.GlobalLogger.ErrorContext(ctx, "failed to remove unverifiable account", "user_id", user.ID, "error", derr)
		}
		return models.NewAuthError("Failed to send verification email", err)
	}
	observability.AuthEvents.WithLabelValues("signup", "ok").Inc()
	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.NewAuthError("Invalid or expired verification link", ErrInvalidToken)
	}
	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		observability.AuthEvents.WithLabelValues("verify", "invalid_token").Inc()
		return nil, models.NewAuthError("Invalid or expired verification link", ErrInvalidToken)
	}
	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.EmailVerified = true
	user.VerificationToken = nil

	id := FromUser(user)
	observability.AuthEvents.WithLabelValues("verify", "ok").Inc()
	s.notify(ChangeVerified, id)
	return id, nil
}

// SignOut ends every session of the identity.
func (s *Service) SignOut(_ context.Context, identityID string) error {
	if identityID == "" {
		return models.NewValidationError("identity id is required")
	}
	observability.AuthEvents.WithLabelValues("logout", "ok").Inc()
	s.notify(ChangeSignedOut, &Identity{ID: identityID})
	return nil
}

func (s *Service) Lookup(ctx context.Context, identityID string) (*Identity, error) {
	user, err := s.users.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return FromUser(user), nil
}
