package main

import (
	"context"
	"database/sql"
	"net"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/config"
	"github.com/sharegate/sharegate/internal/handler"
	"github.com/sharegate/sharegate/internal/jobs"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/database"
	"github.com/sharegate/sharegate/pkg/logger"
)

// multipartOverhead leaves room for form boundaries and headers around a
// file of exactly the maximum upload size.
const multipartOverhead = 1 << 20

func main() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stdout,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration error")
	}

	logger.Info().
		Str("bind_address", cfg.Server.BindAddress).
		Str("port", cfg.Server.Port).
		Str("storage_backend", cfg.Storage.Backend).
		Bool("production", cfg.IsProduction).
		Msg("Starting ShareGate server")

	ctx := context.Background()

	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	blobs, err := storage.New(ctx, cfg.Storage, cfg.Server.PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	userTokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	linkTokens := auth.NewTokenManager(cfg.Auth.LinkTokenSecret)

	fileRepo := repository.NewFileRepository(db)
	grantRepo := repository.NewGrantRepository(db)
	requestRepo := repository.NewAccessRequestRepository(db)
	secureLinkRepo := repository.NewSecureLinkRepository(db)
	mappingRepo := repository.NewLinkMappingRepository(db)

	access := service.NewAccessResolver(fileRepo, grantRepo)
	fileSvc := service.NewFileService(fileRepo, access, blobs, cfg.Storage.MaxUploadSize)
	grantSvc := service.NewGrantService(grantRepo, requestRepo, fileRepo, access)
	secureLinkSvc := service.NewSecureLinkService(secureLinkRepo, fileRepo, access, blobs, cfg.Server.PublicBaseURL)
	shortLinkSvc := service.NewShortLinkService(
		mappingRepo,
		fileRepo,
		blobs,
		linkTokens,
		cfg.Server.PublicBaseURL,
		cfg.Auth.DownloadTokenTTL,
		cfg.Links.RedirectURLTTL,
	)

	redisClient := connectRedis(ctx, cfg.RateLimit.RedisURL)
	verifyLimiter := newLimiter(db, redisClient, "verify",
		cfg.RateLimit.VerifyLimit, cfg.RateLimit.VerifyWindow, handler.ShortCodeAndIPKey)
	linkAccessLimiter := newLimiter(db, redisClient, "link_access",
		cfg.RateLimit.LinkAccessLimit, cfg.RateLimit.LinkAccessWindow, nil)
	managementLimiter := newLimiter(db, redisClient, "management",
		cfg.RateLimit.ManagementLimit, cfg.RateLimit.ManagementWindow, handler.IPAndUserKey)

	retention := time.Duration(cfg.Jobs.TrashRetentionDays) * 24 * time.Hour
	sweeper, err := jobs.NewSweeper(cfg.Jobs.SweepSchedule,
		jobs.Task{Name: "expire_short_links", Run: mappingRepo.ExpireStale},
		jobs.Task{Name: "deactivate_secure_links", Run: secureLinkRepo.DeactivateUnusable},
		jobs.Task{Name: "purge_trash", Run: func(ctx context.Context, now time.Time) (int64, error) {
			purged, err := fileSvc.PurgeDeleted(ctx, now.Add(-retention))
			return int64(purged), err
		}},
		jobs.Task{Name: "prune_rate_limits", Run: func(ctx context.Context, now time.Time) (int64, error) {
			return handler.PruneRateLimitCounters(ctx, db, now)
		}},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to schedule sweeper")
	}

	app := fiber.New(fiber.Config{
		BodyLimit:               int(cfg.Storage.MaxUploadSize) + multipartOverhead,
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            5 * time.Minute,
		IdleTimeout:             60 * time.Second,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.Server.TrustedProxies,
		EnableIPValidation:      true,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
	app.Use(handler.SecurityHeadersMiddleware())
	app.Use(handler.RequestIDMiddleware())
	app.Use(handler.MetricsMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Download-Token, X-Link-Password, X-Link-Email",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Disposition, X-File-Size, X-Watermark, X-Request-ID",
		MaxAge:        3600,
	}))
	app.Use(logger.Middleware())

	metricsToken := cfg.Observability.MetricsToken
	if !cfg.IsProduction && metricsToken == "" {
		logger.Warn().Msg("Metrics endpoint is unauthenticated")
	}
	handler.RegisterRoutes(app, handler.Dependencies{
		DB:                db,
		Blobs:             blobs,
		UserTokens:        userTokens,
		Files:             fileSvc,
		Grants:            grantSvc,
		SecureLinks:       secureLinkSvc,
		ShortLinks:        shortLinkSvc,
		VerifyLimiter:     verifyLimiter,
		LinkAccessLimiter: linkAccessLimiter,
		ManagementLimiter: managementLimiter,
		MetricsEnabled:    cfg.Observability.MetricsEnabled,
		MetricsToken:      metricsToken,
		Sweeper:           sweeper,
		OpsToken:          cfg.Observability.OpsToken,
	})

	sweeper.Start()

	go func() {
		addr := net.JoinHostPort(cfg.Server.BindAddress, cfg.Server.Port)
		logger.Info().
			Str("address", addr).
			Str("public_base_url", cfg.Server.PublicBaseURL).
			Bool("metrics_enabled", cfg.Observability.MetricsEnabled).
			Msg("HTTP server listening")
		if err := app.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("Server stopped")
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"sharegate": func(ctx context.Context) error {
			return shutdown(ctx, app, sweeper, redisClient, db)
		},
	})
	os.Exit(<-wait)
}

// shutdown drains HTTP first so no request outlives the sweeper, cache or
// database it depends on.
func shutdown(ctx context.Context, app *fiber.App, sweeper *jobs.Sweeper, redisClient *redis.Client, db *sql.DB) error {
	logger.Info().Msg("Shutting down HTTP server...")
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during HTTP shutdown")
	}

	if err := sweeper.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Sweeper did not stop in time")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing redis client")
		}
	}

	logger.Info().Msg("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing database")
		return err
	}

	logger.Info().Msg("Server stopped gracefully")
	return nil
}

// connectRedis returns nil when no URL is configured or the server is
// unreachable; limiters then run on SQLite alone.
func connectRedis(ctx context.Context, rawURL string) *redis.Client {
	if rawURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unreachable, rate limiting falls back to the database")
		_ = client.Close()
		return nil
	}
	logger.Info().Str("addr", opts.Addr).Msg("Redis rate limiter connected")
	return client
}

func newLimiter(
	db *sql.DB,
	redisClient *redis.Client,
	scope string,
	limit int,
	window time.Duration,
	keyFunc handler.KeyFunc,
) *handler.RateLimiter {
	sqlLimiter := handler.NewSQLLimiter(db, scope, limit, window)
	if redisClient == nil {
		return handler.NewRateLimiter(scope, sqlLimiter, nil, keyFunc)
	}
	return handler.NewRateLimiter(scope, handler.NewRedisLimiter(redisClient, scope, limit, window), sqlLimiter, keyFunc)
}
