// !ONLY FOR DEBUG PURPOSES
//
//go:build debug

package httpServer

import (
	"github.com/gofiber/fiber/v2"
)

func (h *handler) RegisterRoutes() {
	h.logger.Info("Registering debug routes")

	// On server side nginx or other reverse proxy should handle CORS
	// and OPTIONS requests, but for debug purposes we handle it here.
	h.server.Use(func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", "http://localhost:3000")
		c.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		requestedHeaders := c.Get("Access-Control-Request-Headers")
		if requestedHeaders != "" {
			c.Set("Access-Control-Allow-Headers", requestedHeaders)
		} else {
			c.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		}

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusOK)
		}
		return c.Next()
	})

	m := newMetrics(h.namespace, h.subsystem)

	h.server.Use(m.metricsMiddleware)

	// no rate limit in debug builds
	h.server.Get("/health", h.health)
	h.server.Get("/metrics", h.adminAuthMiddleware, h.metrics)

	h.registerAPI()
}
