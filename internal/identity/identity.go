// Package identity implements the identity provider: anonymous and password
// sign-in, sign-up with email verification, sign-out and change notifications.
package identity

import (
	"context"
	"errors"

	"realmeal/internal/models"
)

// Identity is the minimal view of a signed-in user.
type Identity struct {
	ID            string `json:"id"`
	IsAnonymous   bool   `json:"is_anonymous"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Authenticated reports whether the identity may use the service. A
// non-anonymous identity with an unverified email is treated as signed out.
func (i *Identity) Authenticated() bool {
	return i != nil && (i.IsAnonymous || i.EmailVerified)
}

// FromUser builds the identity of a stored user.
func FromUser(u *models.User) *Identity {
	return &Identity{
		ID:            u.ID,
		IsAnonymous:   u.IsAnonymous,
		Email:         u.EmailAddress(),
		EmailVerified: u.EmailVerified,
	}
}

// ChangeKind describes what happened to an identity.
type ChangeKind string

const (
	ChangeSignedIn  ChangeKind = "signed_in"
	ChangeSignedOut ChangeKind = "signed_out"
	ChangeVerified  ChangeKind = "verified"
)

// Change is delivered to subscribers whenever an identity signs in, signs out
// or completes verification.
type Change struct {
	Kind     ChangeKind
	Identity *Identity
}

// Listener receives identity changes.
type Listener func(Change)

// Causes wrapped by AUTH_ERROR results.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrWeakPassword       = errors.New("weak password")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidToken       = errors.New("invalid verification token")
)

// Provider is the identity provider contract.
type Provider interface {
	SignInAnonymous(ctx context.Context) (*Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password string) error
	VerifyEmail(ctx context.Context, token string) (*Identity, error)
	SignOut(ctx context.Context, identityID string) error
	Lookup(ctx context.Context, identityID string) (*Identity, error)
	Subscribe(l Listener) (unsubscribe func())
}

// Mailer delivers verification links.
type Mailer interface {
	SendVerification(ctx context.Context, userID, email, token string) error
}
