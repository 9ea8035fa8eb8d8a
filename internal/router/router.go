package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/smartlms/submission-core/internal/config"
	"github.com/smartlms/submission-core/internal/handler"
	"github.com/smartlms/submission-core/internal/middleware"
	"github.com/smartlms/submission-core/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	VersionHandler    *handler.VersionHandler
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	CheckHandler      *handler.CheckHandler
	EventHandler      *handler.EventHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	if deps.VersionHandler != nil {
		versions := api.Group("/versions")
		deps.VersionHandler.Register(versions)

		if deps.CheckHandler != nil {
			deps.CheckHandler.Register(versions)
		}
	}

	submissions := api.Group("/submissions")

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions)
	}

	if deps.VersionHandler != nil {
		deps.VersionHandler.RegisterSubmissionRoutes(submissions)
	}

	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(submissions, middleware.RequireRole(middleware.RoleLecturer, middleware.RoleAdmin))
	}

	if deps.EventHandler != nil {
		deps.EventHandler.Register(submissions)
	}
}
