// Package server contains the HTTP handlers of the review queue API.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"reviewqueue/internal/bootstrap"
	"reviewqueue/internal/config"
	"reviewqueue/internal/featureflags"
	"reviewqueue/internal/middleware"
	"reviewqueue/internal/models"
	"reviewqueue/internal/observability"
	"reviewqueue/internal/repository"
	"reviewqueue/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
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
	runtime        *bootstrap.Runtime
	users          repository.UserRepository
	reviewables    *service.ReviewableService
	featureFlags   *featureflags.Manager
}

// NewServer connects to the database and Redis and wires a server on top.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ApplySchema: true})
	if err != nil {
		return nil, err
	}
	return NewServerWithRuntime(rt), nil
}

// NewServerWithDeps creates a Server using already-initialized connections.
// redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	rt, err := bootstrap.Wire(cfg, db, redisClient)
	if err != nil {
		return nil, fmt.Errorf("wire runtime: %w", err)
	}
	return NewServerWithRuntime(rt), nil
}

// NewServerWithRuntime creates a Server over a wired runtime.
func NewServerWithRuntime(rt *bootstrap.Runtime) *Server {
	middleware.InitMiddleware(rt.Config)
	return &Server{
		config:         rt.Config,
		db:             rt.DB,
		redis:          rt.Redis,
		promMiddleware: middleware.InitMetrics(observability.ServiceName),
		runtime:        rt,
		users:          rt.Users,
		reviewables:    rt.Service,
		featureFlags:   rt.Flags,
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS
	// headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	protected := api.Group("", middleware.AuthRequired, s.CurrentUserRequired())

	reviewables := protected.Group("/reviewables")
	reviewables.Get("/", s.ListReviewables)
	// Static segments before /:id
	reviewables.Get("/count", s.GetReviewableCount)
	reviewables.Post("/bulk/:actionId", s.AdminRequired(), middleware.RateLimit(s.redis, middleware.Rule{
		Name: "reviewable_bulk", Limit: 10, Window: time.Minute}), s.BulkPerformReviewables)
	reviewables.Get("/:id/history", s.GetReviewableHistory)
	reviewables.Put("/:id/perform/:actionId", middleware.RateLimit(s.redis, middleware.Rule{
		Name: "reviewable_perform", Limit: 60, Window: time.Minute}), s.PerformReviewable)
	reviewables.Post("/:id/claim", s.ClaimReviewable)
	reviewables.Delete("/:id/claim", s.UnclaimReviewable)
	reviewables.Put("/:id", middleware.RateLimit(s.redis, middleware.Rule{
		Name: "reviewable_update", Limit: 30, Window: time.Minute}), s.UpdateReviewable)
	reviewables.Get("/:id", s.GetReviewable)

	admin := protected.Group("/admin", s.AdminRequired())
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Review Queue Metrics Dashboard",
	}))
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis health. Redis is optional, so
// its absence degrades the report without failing it.
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

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus != "healthy" || redisStatus == "unhealthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus == "unavailable":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// CurrentUserRequired loads the authenticated user into locals. It must run
// after middleware.AuthRequired.
func (s *Server) CurrentUserRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(uint)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		user, err := s.users.GetByID(c.UserContext(), userID)
		if err != nil {
			if isNotFound(err) {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("User no longer exists"))
			}
			return s.respondError(c, err)
		}

		c.Locals(currentUserKey, user)
		// Sync to UserContext for logging and downstream services
		c.SetUserContext(context.WithValue(c.UserContext(), middleware.UserIDKey, user.ID))
		return c.Next()
	}
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after CurrentUserRequired.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)
		if user == nil || !user.IsAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

// GetFeatureFlags lists the configured flags and their value for the caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	user := currentUser(c)
	return c.JSON(fiber.Map{
		"flags":   s.featureFlags.Raw(),
		"enabled": s.featureFlags.Snapshot(user.ID),
	})
}

// Start starts the server
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName:   "Review Queue API",
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}
	if s.runtime != nil {
		s.runtime.Close()
	}

	log.Println("Server shutdown complete")
	return nil
}
