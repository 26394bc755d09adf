package router

import (
	"github.com/ManuelReschke/PayProxy/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// HttpRouter serves the public pages and the processor callback.
type HttpRouter struct {
	opts Options
}

func NewHttpRouter(opts Options) *HttpRouter {
	return &HttpRouter{opts: opts}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/", controllers.RenderIndex)
	app.Get("/healthz", controllers.HandleHealth(h.opts.Health))
	if h.opts.Metrics != nil {
		app.Get("/metrics/prometheus", h.opts.Metrics)
	}

	// signature-verified in the controller
	processor := controllers.NewProcessorController(h.opts.Controllers)
	app.Post("/cybersource-callback", processor.Callback)
}
