package router

import (
	"github.com/ManuelReschke/PayProxy/app/controllers"
	"github.com/ManuelReschke/PayProxy/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

// AdminRouter serves the staff routes behind basic auth.
type AdminRouter struct {
	opts Options
}

func NewAdminRouter(opts Options) *AdminRouter {
	return &AdminRouter{opts: opts}
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	ac := controllers.NewAdminController(h.opts.Controllers, h.opts.Queue)

	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.opts.Admin))
	adminGroup.Post("/update-statuses", ac.UpdateStatuses)
	adminGroup.Get("/cancellations", ac.PendingCancellations)
	adminGroup.Get("/jobs", ac.Jobs)
}
