package router

import (
	"github.com/ManuelReschke/PayProxy/app/controllers"
	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
)

// Router registers one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries everything the routes are wired to.
type Options struct {
	Controllers    controllers.Dependencies
	Queue          controllers.QueueStats
	Admin          config.Admin
	RateLimit      config.RateLimit
	LimiterStorage fiber.Storage
	Health         map[string]controllers.HealthCheck
	Metrics        fiber.Handler
}

func InstallRouter(app *fiber.App, opts Options) {
	setup(app,
		NewHttpRouter(opts),
		NewPlatformRouter(opts),
		NewAdminRouter(opts),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
