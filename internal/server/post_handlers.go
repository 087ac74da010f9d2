package server

import (
	"io"

	"realmeal/internal/models"
	"realmeal/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePost handles POST /api/posts
// @Summary Create post
// @Description Upload a meal photo with a description
// @Tags posts
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param image formData file true "Meal photo (jpeg, png, gif or webp)"
// @Param description formData string true "Caption"
// @Success 201 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	id, err := currentIdentity(c)
	if err != nil {
		return respondError(c, err)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return respondError(c, models.NewValidationError("Image file is required"))
	}
	maxBytes := int64(s.config.ImageMaxUploadSizeMB) * 1024 * 1024
	if fh.Size > maxBytes {
		return respondError(c, models.NewValidationError("Image exceeds the upload size limit"))
	}
	f, err := fh.Open()
	if err != nil {
		return respondError(c, models.NewValidationError("Unable to read image"))
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return respondError(c, models.NewValidationError("Unable to read image"))
	}

	post, err := s.postService.Create(c.UserContext(), service.CreatePostInput{
		AuthorID:    id.ID,
		Description: c.FormValue("description"),
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Image:       data,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPosts handles GET /api/posts
// @Summary Recent posts
// @Description One page of live posts, newest first. Pass next_cursor back as cursor for the next page.
// @Tags posts
// @Produce json
// @Param cursor query string false "RFC 3339 timestamp; only posts created strictly before it"
// @Success 200 {object} models.PostPage
// @Failure 400 {object} models.ErrorResponse
// @Router /posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	cursor, err := service.ParseCursor(c.Query("cursor"))
	if err != nil {
		return respondError(c, err)
	}
	page, err := s.postService.ListRecent(c.UserContext(), cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// GetPost handles GET /api/posts/:id
// @Summary Get post
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	postID, err := pathParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	post, err := s.postService.GetByID(c.UserContext(), postID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// ReactToPost handles POST /api/posts/:id/reactions
// @Summary React to post
// @Description Add one real or fake vote. Own posts and counters at the cap are reported as not applied.
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Param request body object{kind=string} true "Reaction kind: real or fake"
// @Success 200 {object} service.ReactionResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/reactions [post]
func (s *Server) ReactToPost(c *fiber.Ctx) error {
	id, err := currentIdentity(c)
	if err != nil {
		return respondError(c, err)
	}
	postID, err := pathParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	result, err := s.reactionService.React(c.UserContext(), postID, id.ID, models.ReactionKind(req.Kind))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetUserPosts handles GET /api/users/:id/posts
// @Summary Posts by author
// @Tags users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {array} models.Post
// @Router /users/{id}/posts [get]
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	authorID, err := pathParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	posts, err := s.postService.ListByAuthor(c.UserContext(), authorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}
