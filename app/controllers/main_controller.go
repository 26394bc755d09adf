package controllers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

func RenderIndex(c *fiber.Ctx) error {
	return renderGeneric(c, fiber.StatusOK, "perma-payments", "a window to CyberSource Secure Acceptance Web/Mobile")
}

// HandleHealth runs every check and reports 503 if any of them failed.
func HandleHealth(checks map[string]HealthCheck) fiber.Handler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		results := fiber.Map{}
		healthy := true
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				log.Warnf("[Health] %s check failed: %v", name, err)
				results[name] = "down"
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": results})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": results})
	}
}
