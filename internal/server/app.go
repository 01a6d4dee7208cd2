package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/qasim313/Unbrandit/internal/auth"
	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/handler"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/middleware"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/pkg/response"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Authenticator *auth.Authenticator
	RateLimiter   *middleware.RateLimiter
	Checks        map[string]HealthCheck
}

// NewApp builds the Fiber application with every route wired.
func NewApp(cfg *config.Config, s *Services, opts Options) *fiber.App {
	validate := handler.NewValidator()
	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = 512 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: cfg.IsProduction(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		if id, ok := c.Locals("requestid").(string); ok {
			c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	})
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${locals:requestid}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Auth
	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = auth.NewAuthenticator(nil, cfg.JWT.Secret)
	}
	apiAuth, upgradeAuth := middleware.GatewayAuthMiddleware(), middleware.GatewayAuthMiddleware()
	if !cfg.Gateway.Enabled {
		m := middleware.NewAuthMiddleware(authenticator)
		apiAuth, upgradeAuth = m.Authenticate(), m.AuthenticateUpgrade()
	}
	limiter := opts.RateLimiter

	projectHandler := handler.NewProjectHandler(s.Projects, s.Resolver, validate)
	flavorHandler := handler.NewFlavorHandler(s.Flavors, s.Resolver, validate)
	buildHandler := handler.NewBuildHandler(s.Builds, s.Resolver, validate)
	uploadHandler := handler.NewUploadHandler(s.Uploads, int64(bodyLimit))
	filesHandler := handler.NewFilesHandler(s.Resolver)
	internalHandler := handler.NewInternalHandler(s.State, s.Flavors, validate)
	authHandler := handler.NewAuthHandler(authenticator)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", healthHandler(opts.Checks))

	// ForwardAuth verification endpoint, called by the gateway
	app.Get("/auth/verify", authHandler.Verify)

	// Signed file references are their own capability
	app.Get(strings.TrimSuffix(service.FilesRoute, "/")+"/:ref", filesHandler.Get)

	api := app.Group("/api", apiAuth)

	projects := api.Group("/projects")
	projects.Post("/", limiter.ProjectLimit(cfg.RateLimit.ProjectPerHour), projectHandler.Create)
	projects.Get("/", projectHandler.List)
	projects.Get("/:id", projectHandler.Get)
	projects.Delete("/:id", projectHandler.Delete)
	projects.Post("/:id/decompile", limiter.ProjectLimit(cfg.RateLimit.ProjectPerHour), projectHandler.RetryDecompile)
	projects.Post("/:id/flavors", flavorHandler.Create)
	projects.Get("/:id/flavors", flavorHandler.List)

	flavors := api.Group("/flavors")
	flavors.Get("/:id", flavorHandler.Get)
	flavors.Delete("/:id", flavorHandler.Delete)
	flavors.Put("/:id/config", flavorHandler.SaveConfig)
	flavors.Get("/:id/versions", flavorHandler.Versions)
	flavors.Post("/:id/rollback", flavorHandler.Rollback)
	flavors.Get("/:id/builds", buildHandler.List)

	builds := api.Group("/builds")
	builds.Post("/", limiter.BuildLimit(cfg.RateLimit.BuildPerHour), buildHandler.Start)
	builds.Get("/:id", buildHandler.Get)
	builds.Get("/:id/download", buildHandler.Download)
	builds.Delete("/:id/logs", buildHandler.ClearLogs)
	builds.Delete("/:id", buildHandler.Delete)

	api.Post("/uploads", limiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Upload)

	// Control plane, called by the build worker
	internal := app.Group("/internal", middleware.InternalAuth(cfg.Internal.Token, cfg.IsProduction()))
	internal.Post("/builds/:id/logs", internalHandler.BuildProgress)
	internal.Post("/projects/:id/logs", internalHandler.ProjectProgress)
	internal.Patch("/flavors/:id/config", internalHandler.PatchFlavorConfig)

	// Live updates
	app.Get("/ws", handler.RequireUpgrade, upgradeAuth, handler.LiveUpdates(s.Hub))

	return app
}

func healthHandler(checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		status := "ok"
		results := fiber.Map{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				continue
			}
			results[name] = "ok"
		}

		code := fiber.StatusOK
		if status != "ok" {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"status": status, "services": results})
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		logger := logging.Ctx(c.UserContext())
		logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	}

	return response.Error(c, code, response.CodeForStatus(code), message, nil)
}
