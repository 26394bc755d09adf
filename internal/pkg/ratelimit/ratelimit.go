// Package ratelimit throttles the platform routes per client address.
package ratelimit

import (
	"strconv"

	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

// counterDatabase keeps the limiter counters apart from the job queue (DB 0).
const counterDatabase = 2

// NewStorage keeps the limiter counters in Redis so that every instance
// shares them.
func NewStorage(cfg config.Cache) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Warnf("[RateLimit] Invalid CACHE_PORT %q, using 6379", cfg.Port)
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: counterDatabase,
		Reset:    false,
	})
}

// New returns the limiter middleware. A nil storage keeps counters in memory.
func New(cfg config.RateLimit, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warnf("[RateLimit] %s exceeded %d requests on %s", c.IP(), cfg.Max, c.Path())
			return c.Status(fiber.StatusTooManyRequests).Render("generic", fiber.Map{
				"Heading": "429 Too Many Requests",
				"Message": "Please try again later.",
			})
		},
	})
}
