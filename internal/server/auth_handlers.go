package server

import (
	"realmeal/internal/identity"
	"realmeal/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by every endpoint that signs an identity in.
type SessionResponse struct {
	Token     string             `json:"token"`
	ExpiresIn int64              `json:"expires_in"`
	Identity  *identity.Identity `json:"identity"`
}

func (s *Server) issueSession(c *fiber.Ctx, status int, id *identity.Identity) error {
	token, err := s.sessions.Issue(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(status).JSON(SessionResponse{
		Token:     token,
		ExpiresIn: int64(s.sessions.TTL().Seconds()),
		Identity:  id,
	})
}

// SignInAnonymous handles POST /api/auth/anonymous
// @Summary Anonymous sign-in
// @Description Create a fresh anonymous identity and return a session token
// @Tags auth
// @Produce json
// @Success 201 {object} SessionResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /auth/anonymous [post]
func (s *Server) SignInAnonymous(c *fiber.Ctx) error {
	id, err := s.identity.SignInAnonymous(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return s.issueSession(c, fiber.StatusCreated, id)
}

// Signup handles POST /api/auth/signup
// @Summary Email signup
// @Description Register an account; it stays signed out until the emailed link is followed
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Signup request"
// @Success 202 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.SignUp(c.UserContext(), req.Email, req.Password); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Check your inbox to verify your email address",
	})
}

// Login handles POST /api/auth/login
// @Summary Email login
// @Description Authenticate a verified account and return a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Login credentials"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	id, err := s.identity.SignInWithPassword(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return s.issueSession(c, fiber.StatusOK, id)
}

// VerifyEmail handles GET /api/auth/verify?token=
// @Summary Verify email
// @Description Complete email verification and sign the account in
// @Tags auth
// @Produce json
// @Param token query string true "Verification token"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/verify [get]
func (s *Server) VerifyEmail(c *fiber.Ctx) error {
	id, err := s.identity.VerifyEmail(c.UserContext(), c.Query("token"))
	if err != nil {
		return respondError(c, err)
	}
	return s.issueSession(c, fiber.StatusOK, id)
}

// Logout handles POST /api/auth/logout
// @Summary Logout
// @Description Revoke the current token and sign the identity out everywhere
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string}
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	id, err := currentIdentity(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.sessions.Revoke(c.UserContext(), middleware.TokenFrom(c)); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.SignOut(c.UserContext(), id.ID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me
// @Summary Current identity
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} identity.Identity
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/me [get]
func (s *Server) Me(c *fiber.Ctx) error {
	id, err := currentIdentity(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(id)
}
