// Package middleware provides authentication, logging, tracing, metrics and
// rate limiting middleware for the application.
package middleware

import (
	"context"
	"strings"

	"realmeal/internal/identity"
	"realmeal/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Authenticator resolves bearer tokens to identities.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.Identity, error)
}

// Fiber locals set by the auth middleware.
const (
	LocalIdentity = "identity"
	LocalUserID   = "userID"
	LocalToken    = "token"
)

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", models.NewUnauthorizedError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", models.NewUnauthorizedError("Invalid authorization header format")
	}
	return parts[1], nil
}

func setIdentity(c *fiber.Ctx, token string, id *identity.Identity) {
	c.Locals(LocalIdentity, id)
	c.Locals(LocalUserID, id.ID)
	c.Locals(LocalToken, token)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, id.ID))
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}
		id, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return models.RespondWithError(c, models.StatusFor(err), err)
		}
		setIdentity(c, token, id)
		return c.Next()
	}
}

// OptionalAuth attaches the identity when a valid token is present and lets
// anonymous requests through otherwise.
func OptionalAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Next()
		}
		token, err := bearerToken(c)
		if err != nil {
			return c.Next()
		}
		if id, err := auth.Authenticate(c.UserContext(), token); err == nil {
			setIdentity(c, token, id)
		}
		return c.Next()
	}
}

// IdentityFrom returns the identity attached by the auth middleware, or nil.
func IdentityFrom(c *fiber.Ctx) *identity.Identity {
	id, _ := c.Locals(LocalIdentity).(*identity.Identity)
	return id
}

// TokenFrom returns the bearer token of an authenticated request.
func TokenFrom(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalToken).(string)
	return token
}
