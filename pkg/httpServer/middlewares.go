package httpServer

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// adminAuthMiddleware accepts a bearer token whose md5 hex digest is in the
// configured list. Only digests are kept in memory.
func (h *handler) adminAuthMiddleware(c *fiber.Ctx) error {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return errorHandler(c, fiber.NewError(fiber.StatusUnauthorized, "unauthorized"))
	}

	hash := md5.Sum([]byte(token))
	if _, exists := h.adminAuthTokens[hex.EncodeToString(hash[:])]; !exists {
		h.logger.Warn("admin token rejected", slog.String("url", c.OriginalURL()), slog.String("ip", c.IP()))
		return errorHandler(c, fiber.NewError(fiber.StatusForbidden, "forbidden"))
	}

	return c.Next()
}

func (h *handler) loggerMiddleware(c *fiber.Ctx) error {
	headers := c.GetReqHeaders()
	for _, key := range []string{fiber.HeaderAuthorization, fiber.HeaderCookie} {
		if _, ok := headers[key]; ok {
			headers[key] = []string{"REDACTED"}
		}
	}

	started := time.Now()
	err := c.Next()

	h.logger.Debug(
		"request handled",
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
		slog.Any("headers", headers),
		slog.Int("body_length", len(c.Body())),
		slog.Int("status", c.Response().StatusCode()),
		slog.Duration("elapsed", time.Since(started)),
	)

	return err
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
