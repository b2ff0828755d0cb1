// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "codexverse/docs" // swagger docs
	"codexverse/internal/analytics"
	"codexverse/internal/cache"
	"codexverse/internal/config"
	"codexverse/internal/database"
	"codexverse/internal/middleware"
	"codexverse/internal/models"
	"codexverse/internal/realtime"
	"codexverse/internal/repository"
	"codexverse/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	userRepo     repository.UserRepository
	projectRepo  repository.ProjectRepository
	categoryRepo repository.CategoryRepository
	ticketRepo   repository.TicketRepository

	hub       *realtime.Hub
	analytics *analytics.Aggregator
	totals    *service.TotalsCounter
	thumbs    *service.ThumbnailService

	authService    *service.AuthService
	userService    *service.UserService
	projectService *service.ProjectService
	ticketService  *service.TicketService

	now func() time.Time
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient := cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; tickets, revocation and caching are then disabled.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server requires a config and a database")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("codexverse-api"),
		userRepo:       repository.NewUserRepository(db),
		projectRepo:    repository.NewProjectRepository(db),
		categoryRepo:   repository.NewCategoryRepository(db),
		ticketRepo:     repository.NewTicketRepository(db),
		hub:            realtime.NewHub(redisClient),
		thumbs:         service.NewThumbnailService(cfg),
		now:            time.Now,
	}

	s.totals = service.NewTotalsCounter(s.userRepo, s.projectRepo, redisClient)
	s.analytics = analytics.New(s.totals, s.hub.Presence(), analytics.Options{
		MaxEvents: cfg.AnalyticsMaxEvents,
		Retention: cfg.AnalyticsRetention,
	})

	s.authService = service.NewAuthService(s.userRepo, s.totals.Invalidate)
	s.userService = service.NewUserService(s.userRepo, s.hub, s.analytics, s.totals)
	s.projectService = service.NewProjectService(s.projectRepo, s.categoryRepo, s.thumbs, s.totals, s.analytics, s.analytics)
	s.ticketService = service.NewTicketService(s.ticketRepo, s.hub)

	// A fresh process has no live sockets.
	s.hub.Presence().ResetMirror(context.Background())

	return s, nil
}

// Analytics exposes the aggregator so the supervisor can run its pruner.
func (s *Server) Analytics() *analytics.Aggregator {
	return s.analytics
}

// Hub exposes the realtime hub.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// App builds the Fiber application with middleware and routes. It is built once.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName:      "Codexverse API",
		BodyLimit:    s.bodyLimit(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler,
	})

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) bodyLimit() int {
	mb := s.config.MaxUploadSizeMB
	if mb <= 0 {
		mb = service.DefaultMaxUploadSizeMB
	}
	// Room for the multipart envelope and text fields.
	return (mb + 1) * 1024 * 1024
}

// errorHandler turns stray errors into the standard JSON error body.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(models.ErrorResponse{Error: fiberErr.Message})
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return models.RespondWithError(c, appErr.HTTPStatus(), appErr)
	}

	middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error",
		slog.String("path", c.Path()),
		slog.String("error", err.Error()),
	)
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Uploaded project thumbnails
	app.Static("/media/"+service.ThumbnailSubdir, filepath.Join(s.thumbs.UploadDir(), service.ThumbnailSubdir), fiber.Static{
		Browse: false,
		MaxAge: 86400,
	})

	api := app.Group("/api")

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", s.Register)
	auth.Post("/login", s.Login)
	auth.Post("/logout", s.AuthRequired(), s.Logout)

	// Public catalogue
	api.Get("/projects", s.GetProjects)
	api.Get("/projects/:id", s.GetProject)
	api.Get("/categories", s.GetCategories)

	// Protected routes
	protected := api.Group("", s.AuthRequired())

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Get("/me/stats", s.GetMyStats)

	protected.Post("/projects/:id/download", s.DownloadProject)

	tickets := protected.Group("/tickets")
	tickets.Get("/", s.GetTickets)
	tickets.Post("/", s.CreateTicket)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	tickets.Get("/:id/messages", s.GetTicketMessages)
	tickets.Post("/:id/messages", s.AddTicketMessage)
	tickets.Get("/:id", s.GetTicket)
	tickets.Put("/:id", s.UpdateTicket)
	tickets.Delete("/:id", s.DeleteTicket)

	// WebSocket ticket issuance and upgrade
	protected.Post("/ws/ticket", s.IssueWSTicket)
	protected.Get("/ws", s.RequireUpgrade(), s.WebsocketHandler())

	// Admin routes
	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin, "Admin access required"))
	admin.Get("/users", s.AdminGetUsers)
	admin.Post("/user/:id/ban", s.AdminBanUser)
	admin.Post("/user/:id/unban", s.AdminUnbanUser)
	admin.Post("/user/:id/mute", s.AdminMuteUser)
	admin.Post("/user/:id/unmute", s.AdminUnmuteUser)
	admin.Post("/user/:id/delete", s.AdminDeleteUser)
	admin.Put("/user/:id/role", s.AdminSetRole)
	admin.Get("/tickets", s.AdminGetTickets)
	admin.Post("/ticket/:id/status", s.AdminSetTicketStatus)
	admin.Get("/dashboard", s.AdminDashboard)
	admin.Get("/analytics", s.AdminAnalytics)
	admin.Get("/logs", s.AdminLogs)
	admin.Post("/projects", s.AdminCreateProject)
	admin.Put("/projects/:id", s.AdminUpdateProject)
	admin.Delete("/projects/:id", s.AdminDeleteProject)
	admin.Post("/categories", s.AdminCreateCategory)
	admin.Delete("/categories/:id", s.AdminDeleteCategory)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   s.now(),
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

	// Redis is optional: without it the API still serves, minus tickets and revocation.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"connections": s.hub.ClientCount(),
		"time":        s.now(),
	})
}

// Shutdown closes sockets, then the HTTP listener, then the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Warn("error shutting down hub", slog.String("hub", s.hub.Name()), slog.String("error", err.Error()))
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Warn("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Warn("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Warn("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
