package server

import (
	"log/slog"
	"strings"

	"realmeal/internal/identity"
	"realmeal/internal/middleware"
	"realmeal/internal/models"

	"github.com/gofiber/fiber/v2"
)

// respondError writes err with the status its code maps to. Server-side
// failures are logged with their cause, which never reaches the client.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// parseBody decodes the JSON request body into dst.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// pathParam returns the trimmed route parameter, rejecting blanks.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Params(name))
	if v == "" {
		return "", models.NewValidationError("Missing " + name)
	}
	return v, nil
}

// currentIdentity returns the identity attached by AuthRequired.
func currentIdentity(c *fiber.Ctx) (*identity.Identity, error) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		return nil, models.NewUnauthorizedError("Authorization required")
	}
	return id, nil
}

// isReactionRequest matches POST /api/posts/:id/reactions.
func isReactionRequest(c *fiber.Ctx) bool {
	return c.Method() == fiber.MethodPost &&
		strings.HasPrefix(c.Path(), "/api/posts/") &&
		strings.HasSuffix(strings.TrimRight(c.Path(), "/"), "/reactions")
}
