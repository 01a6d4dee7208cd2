package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/qasim313/Unbrandit/internal/auth"
	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/middleware"
	"github.com/qasim313/Unbrandit/internal/repository"
	"github.com/qasim313/Unbrandit/internal/server"
	"github.com/qasim313/Unbrandit/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Warn().Err(err).Msg("Redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	checks := map[string]server.HealthCheck{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}

	// Records
	var store repository.Store
	if cfg.Database.DSN != "" {
		pg, err := repository.NewPostgresStore(cfg.Database)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to Postgres")
		}
		if err := pg.Migrate(); err != nil {
			logging.Fatal().Err(err).Msg("failed to migrate schema")
		}
		defer pg.Close()
		checks["database"] = pg.Ping
		store = pg
		logging.Info().Msg("Postgres store ready")
	} else {
		if cfg.IsProduction() {
			logging.Fatal().Msg("DATABASE_URL must be set in production")
		}
		logging.Warn().Msg("DATABASE_URL not set, records are kept in memory")
		store = repository.NewMemoryStore()
	}

	// Blob storage (optional: falls back to process memory outside production)
	var storage client.StorageClient
	if r2Client, err := client.NewR2Client(&cfg.Storage); err != nil {
		if cfg.IsProduction() {
			logging.Fatal().Err(err).Msg("object storage is required in production")
		}
		logging.Warn().Err(err).Msg("object storage not configured, using in-memory blobs")
		storage = client.NewMemoryStorage(fmt.Sprintf("http://localhost:%s/blobs", cfg.Server.Port))
	} else {
		storage = r2Client
		logging.Info().Str("bucket", cfg.Storage.BucketName).Msg("object storage ready")
	}

	// Authentication (optional OIDC, legacy HMAC tokens as fallback)
	var verifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			logging.Warn().Err(err).Msg("OIDC verifier unavailable")
		} else {
			verifier = jwks
			defer jwks.Close()
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	toolchain := client.NewToolchainClient(&cfg.Toolchain)
	if !toolchain.IsConfigured() {
		if cfg.IsProduction() {
			logging.Fatal().Msg("toolchain.service_url is required in production")
		}
		logging.Warn().Msg("toolchain.service_url not set, builds will fail until a worker is configured")
	}
	checks["toolchain"] = toolchain.HealthCheck

	services := server.NewServices(cfg, store, storage, asynqClient)
	app := server.NewApp(cfg, services, server.Options{
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(redisClient),
		Checks:        checks,
	})

	// Asynq worker server
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      server.QueuePriorities(),
		Logger:      logging.NewAsynqLogger(),
		LogLevel:    asynqLogLevel(cfg.Server.LogLevel),
	})
	if err := srv.Start(server.NewTaskMux(services, toolchain)); err != nil {
		logging.Fatal().Err(err).Msg("failed to start task server")
	}

	// Periodic sweep of stuck builds. Unique keeps several replicas from
	// enqueueing overlapping sweeps.
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   logging.NewAsynqLogger(),
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
	interval := cfg.Reconcile.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	if _, err := scheduler.Register(
		"@every "+interval.String(),
		service.NewReconcileTask(),
		asynq.Queue(service.QueueMaintenance),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	); err != nil {
		logging.Fatal().Err(err).Msg("failed to register reconcile schedule")
	}
	if err := scheduler.Start(); err != nil {
		logging.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logging.Info().Msg("shutting down server")
		services.Hub.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logging.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	logging.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		logging.Error().Err(err).Msg("server error")
	}

	scheduler.Shutdown()
	srv.Shutdown()
	logging.Info().Msg("server stopped")
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch level {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
