package router

import (
	"github.com/ManuelReschke/PayProxy/app/controllers"
	"github.com/ManuelReschke/PayProxy/internal/pkg/ratelimit"
	"github.com/gofiber/fiber/v2"
)

// PlatformRouter serves the encrypted routes the platform calls.
type PlatformRouter struct {
	opts Options
}

func NewPlatformRouter(opts Options) *PlatformRouter {
	return &PlatformRouter{opts: opts}
}

func (h PlatformRouter) InstallRouter(app *fiber.App) {
	pc := controllers.NewPlatformController(h.opts.Controllers)

	// A group with an empty prefix would throttle every route, so the
	// limiter is attached per route.
	limit := ratelimit.New(h.opts.RateLimit, h.opts.LimiterStorage)
	app.Post("/purchase", limit, pc.Purchase)
	app.Post("/acknowledge-purchase", limit, pc.AcknowledgePurchase)
	app.Post("/purchase-history", limit, pc.PurchaseHistory)
	app.Post("/subscribe", limit, pc.Subscribe)
	app.Post("/subscription", limit, pc.Subscription)
	app.Post("/change", limit, pc.Change)
	app.Post("/update", limit, pc.Update)
	app.Post("/cancel-request", limit, pc.CancelRequest)
}
