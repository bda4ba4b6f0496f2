package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/internal/storage"
)

const jsonBodyLimit = 1 * 1024 * 1024

// Dependencies is everything the HTTP surface needs from the rest of the
// process. Nil limiters disable limiting for their route group.
type Dependencies struct {
	DB          *sql.DB
	Blobs       storage.BlobStore
	UserTokens  *auth.TokenManager
	Files       *service.FileService
	Grants      *service.GrantService
	SecureLinks *service.SecureLinkService
	ShortLinks  *service.ShortLinkService

	VerifyLimiter     *RateLimiter
	LinkAccessLimiter *RateLimiter
	ManagementLimiter *RateLimiter

	MetricsEnabled bool
	// MetricsToken, when set, is required as a bearer token on /metrics.
	MetricsToken string

	// Sweeper backs POST /ops/sweep, which is only mounted with an OpsToken.
	Sweeper  SweepRunner
	OpsToken string
}

func limit(rl *RateLimiter) fiber.Handler {
	if rl == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return rl.Middleware()
}

// RegisterRoutes mounts the public link surface, the management API and the
// ops endpoints on app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	requireAuth := AuthMiddleware(deps.UserTokens)
	optionalAuth := OptionalAuthMiddleware(deps.UserTokens)
	jsonLimit := BodyLimitMiddleware(jsonBodyLimit)
	linkAccess := limit(deps.LinkAccessLimiter)
	management := limit(deps.ManagementLimiter)

	linkHandler := NewLinkHandler(deps.ShortLinks)
	secureHandler := NewSecureLinkHandler(deps.SecureLinks)
	fileHandler := NewFileHandler(deps.Files)
	grantHandler := NewGrantHandler(deps.Grants)
	healthHandler := NewHealthHandler(deps.DB, deps.Blobs)

	links := app.Group("/links")
	links.Post("/create", jsonLimit, requireAuth, management, linkHandler.Create)
	links.Get("/mine", requireAuth, linkHandler.ListMine)
	links.Post("/verify/:short_code", jsonLimit, limit(deps.VerifyLimiter), linkHandler.Verify)
	links.Patch("/:short_code/revoke", requireAuth, management, linkHandler.Revoke)
	links.Get("/:short_code/content", linkAccess, linkHandler.Content)
	app.Get("/s/:short_code", linkAccess, linkHandler.Redirect)

	app.Get("/secure/:token", optionalAuth, linkAccess, secureHandler.View)
	app.Get("/secure/:token/download", optionalAuth, linkAccess, secureHandler.Download)
	app.Get("/secure/:token/info", linkAccess, secureHandler.Info)

	api := app.Group("/api/v1")

	files := api.Group("/files")
	files.Post("/", requireAuth, management, fileHandler.Upload)
	files.Get("/", requireAuth, fileHandler.List)
	files.Get("/:id", optionalAuth, fileHandler.Get)
	files.Get("/:id/content", optionalAuth, linkAccess, fileHandler.Content)
	files.Patch("/:id/visibility", jsonLimit, requireAuth, management, fileHandler.SetVisibility)
	files.Delete("/:id", requireAuth, management, fileHandler.Delete)
	files.Post("/:id/restore", requireAuth, management, fileHandler.Restore)
	files.Delete("/:id/permanent", requireAuth, management, fileHandler.PermanentDelete)
	files.Get("/:id/history", requireAuth, fileHandler.History)

	files.Post("/:id/secure-links", jsonLimit, requireAuth, management, secureHandler.Create)
	files.Get("/:id/secure-links", requireAuth, secureHandler.ListByFile)
	api.Delete("/secure-links/:id", requireAuth, management, secureHandler.Revoke)
	api.Get("/secure-links/:id/history", requireAuth, secureHandler.History)

	files.Get("/:id/grants", requireAuth, grantHandler.List)
	files.Post("/:id/grants", jsonLimit, requireAuth, management, grantHandler.Grant)
	files.Delete("/:id/grants/:user_id", requireAuth, management, grantHandler.Revoke)
	files.Get("/:id/grants/:user_id/history", requireAuth, grantHandler.History)
	api.Get("/shared-with-me", requireAuth, grantHandler.SharedWithMe)

	files.Post("/:id/access-requests", jsonLimit, requireAuth, management, grantHandler.RequestAccess)
	files.Get("/:id/access-requests", requireAuth, grantHandler.ListRequests)
	api.Post("/access-requests/:id/approve", requireAuth, management, grantHandler.Approve)
	api.Post("/access-requests/:id/deny", requireAuth, management, grantHandler.Deny)

	app.Get("/health", healthHandler.Liveness)
	app.Get("/health/ready", healthHandler.Readiness)

	if deps.MetricsEnabled {
		metricsHandler := NewMetricsHandler()
		if deps.MetricsToken != "" {
			app.Get("/metrics", BearerTokenMiddleware(deps.MetricsToken), metricsHandler.Handler())
		} else {
			app.Get("/metrics", metricsHandler.Handler())
		}
	}

	if deps.Sweeper != nil && deps.OpsToken != "" {
		adminHandler := NewAdminHandler(deps.Sweeper)
		app.Post("/ops/sweep", BearerTokenMiddleware(deps.OpsToken), adminHandler.TriggerSweep)
	}

	if local, ok := deps.Blobs.(*storage.LocalStore); ok {
		blobHandler := NewBlobHandler(local)
		app.Get("/blobs/*", linkAccess, blobHandler.Get)
		app.Put("/blobs/*", blobHandler.Put)
	}
}
