package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetUserProfile handles GET /api/users/:id/profile
// @Summary User profile
// @Description Nickname and live posts of a user
// @Tags users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.Profile
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id}/profile [get]
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	userID, err := pathParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	profile, err := s.profileService.GetProfile(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// UpdateMyProfile handles PUT /api/users/me/profile
// @Summary Update my profile
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{nickname=string} true "Profile fields"
// @Success 200 {object} models.Profile
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /users/me/profile [put]
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	id, err := currentIdentity(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	profile, err := s.profileService.UpdateProfile(c.UserContext(), id.ID, req.Nickname)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetFeatureFlags returns configured flag names and their state for the caller.
// @Summary Feature flags
// @Tags meta
// @Produce json
// @Success 200 {object} object{flags=[]string,evaluated=map[string]bool}
// @Router /feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	subject := c.IP()
	if id, err := currentIdentity(c); err == nil {
		subject = id.ID
	}
	return c.JSON(fiber.Map{
		"flags":     s.featureFlags.Names(),
		"evaluated": s.featureFlags.Snapshot(subject),
	})
}
