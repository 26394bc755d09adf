package middleware

import (
	"crypto/subtle"

	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

// RequireAdmin guards the staff routes with HTTP basic auth. Without
// configured credentials the routes are closed.
func RequireAdmin(cfg config.Admin) fiber.Handler {
	if cfg.Username == "" || cfg.Password == "" {
		log.Warn("[Admin] ADMIN_USERNAME or ADMIN_PASSWORD not set, admin routes disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin routes disabled"})
		}
	}

	return basicauth.New(basicauth.Config{
		Realm: "payproxy admin",
		Authorizer: func(user, pass string) bool {
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
			return userOK && passOK
		},
		Unauthorized: func(c *fiber.Ctx) error {
			log.Warnf("[Admin] Unauthorized request to %s from %s", c.Path(), c.IP())
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="payproxy admin"`)
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})
}
