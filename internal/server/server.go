// Package server contains the HTTP handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "realmeal/docs" // swagger docs
	"realmeal/internal/bootstrap"
	"realmeal/internal/config"
	"realmeal/internal/events"
	"realmeal/internal/featureflags"
	"realmeal/internal/identity"
	"realmeal/internal/middleware"
	"realmeal/internal/models"
	"realmeal/internal/repository"
	"realmeal/internal/service"
	"realmeal/internal/session"
	"realmeal/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators a Server is built from.
// Zero values fall back to in-process defaults.
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher
	Blobs     storage.BlobStore

	// SessionStore defaults to Redis when a client is given, memory otherwise.
	SessionStore session.Store
	// Clock replaces time.Now for post timestamps and session issuance.
	Clock func() time.Time
	// HashCost is the bcrypt cost for new passwords.
	HashCost int
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	publisher    events.Publisher
	blobs        storage.BlobStore
	featureFlags *featureflags.Manager
	identity     *identity.Service
	sessions     *session.Manager

	postService     *service.PostService
	reactionService *service.ReactionService
	commentService  *service.CommentService
	profileService  *service.ProfileService
	reaper          *service.Reaper
}

// NewServer connects to every backing service named by cfg and builds a Server.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := storage.New(cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	return NewServerWithDeps(cfg, Deps{
		DB:        rt.DB,
		Redis:     rt.Redis,
		Publisher: rt.Publisher,
		Blobs:     blobs,
	})
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis itself.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, errors.New("server: database is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("server: blob store is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.SessionStore == nil {
		if deps.Redis != nil {
			deps.SessionStore = session.NewRedisStore(deps.Redis)
		} else {
			deps.SessionStore = session.NewMemoryStore()
		}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.HashCost == 0 {
		deps.HashCost = bcrypt.DefaultCost
	}

	userRepo := repository.NewUserRepository(deps.DB)
	postRepo := repository.NewPostRepository(deps.DB)
	commentRepo := repository.NewCommentRepository(deps.DB)

	mailer := identity.NewEventMailer(deps.Publisher, cfg.AppBaseURL)
	provider := identity.NewService(userRepo, mailer, identity.WithHashCost(deps.HashCost))

	flags := featureflags.NewManager(cfg.FeatureFlags)
	posts := service.NewPostService(postRepo, deps.Blobs, deps.Publisher,
		service.WithRetention(cfg.Retention()),
		service.WithMaxUploadBytes(int64(cfg.ImageMaxUploadSizeMB)*1024*1024),
		service.WithClock(deps.Clock),
	)

	s := &Server{
		config:          cfg,
		db:              deps.DB,
		redis:           deps.Redis,
		promMiddleware:  middleware.InitMetrics("realmeal-api"),
		publisher:       deps.Publisher,
		blobs:           deps.Blobs,
		featureFlags:    flags,
		identity:        provider,
		sessions:        session.NewManager(provider, deps.SessionStore, cfg.JWTSecret, session.WithClock(deps.Clock)),
		postService:     posts,
		reactionService: service.NewReactionService(posts, postRepo, flags),
		commentService:  service.NewCommentService(posts, commentRepo),
		profileService:  service.NewProfileService(userRepo, posts),
		reaper:          service.NewReaper(postRepo, posts, cfg.ReaperInterval, cfg.ReaperBatchSize),
	}
	return s, nil
}

// App returns the Fiber application with middleware and routes installed,
// building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "RealMeal API",
		// Multipart overhead on top of the largest accepted image.
		BodyLimit:    (s.config.ImageMaxUploadSizeMB + 1) * 1024 * 1024,
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return respondError(c, err)
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request and user IDs into the request context for logging.
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{
		// Uploaded images are fetched cross-origin by the web client.
		CrossOriginResourcePolicy: "cross-origin",
	}))
	app.Use(middleware.StructuredLogger())

	// CORS runs before anything that can short-circuit so error responses keep their headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || isReactionRequest(c)
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
			})
		},
	}))
}

// Write quotas. Signup and login refuse traffic when the limiter store is down.
var (
	anonymousQuota     = middleware.Quota{Name: "anonymous", Limit: 20, Window: 10 * time.Minute}
	signupQuota        = middleware.Quota{Name: "signup", Limit: 3, Window: 10 * time.Minute, FailClosed: true}
	loginQuota         = middleware.Quota{Name: "login", Limit: 10, Window: 5 * time.Minute, FailClosed: true}
	createPostQuota    = middleware.Quota{Name: "create_post", Limit: 10, Window: 10 * time.Minute}
	createCommentQuota = middleware.Quota{Name: "create_comment", Limit: 10, Window: time.Minute}
)

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	if local, ok := s.blobs.(*storage.LocalStore); ok {
		app.Static("/uploads", local.Dir(), fiber.Static{MaxAge: 86400})
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	authRequired := middleware.AuthRequired(s.sessions)
	optionalAuth := middleware.OptionalAuth(s.sessions)

	auth := api.Group("/auth")
	auth.Post("/anonymous", middleware.RateLimit(s.redis, anonymousQuota), s.SignInAnonymous)
	auth.Post("/signup", middleware.RateLimit(s.redis, signupQuota), s.Signup)
	auth.Post("/login", middleware.RateLimit(s.redis, loginQuota), s.Login)
	auth.Get("/verify", s.VerifyEmail)
	auth.Post("/logout", authRequired, s.Logout)
	auth.Get("/me", authRequired, s.Me)

	posts := api.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Post("/", authRequired, middleware.RateLimit(s.redis, createPostQuota), s.CreatePost)
	// Specific /:id/:resource routes before the generic /:id route.
	// Reactions are deliberately unthrottled.
	posts.Post("/:id/reactions", authRequired, s.ReactToPost)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", authRequired, middleware.RateLimit(s.redis, createCommentQuota), s.CreateComment)
	posts.Get("/:id", s.GetPost)

	users := api.Group("/users")
	users.Put("/me/profile", authRequired, s.UpdateMyProfile)
	users.Get("/:id/posts", s.GetUserPosts)
	users.Get("/:id/profile", s.GetUserProfile)

	api.Get("/feature-flags", optionalAuth, s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Without Redis, sessions and rate limits fall back to process memory; the API still serves.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	sessionStatus := "ready"
	if !s.sessions.Ready() {
		sessionStatus = "starting"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"sessions": sessionStatus,
		},
		"time": time.Now(),
	})
}

// Start subscribes the session manager, launches the reaper and serves HTTP.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	if err := s.sessions.Start(ctx); err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	if s.config.ReaperEnabled {
		s.reaper.StartBackgroundWorker(ctx)
	}

	app := s.App()
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stops the reaper loop.
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	s.sessions.Close()

	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			middleware.Logger.Error("error closing event publisher", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
