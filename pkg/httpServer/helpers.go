package httpServer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/models"
)

func (h *handler) limitReached(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", "limitReached"),
		slog.String("http_method", c.Method()),
		slog.String("url", c.OriginalURL()),
		slog.String("ip", c.IP()),
	)

	log.Warn("rate limit reached for request")
	return errorHandler(c, fiber.NewError(fiber.StatusTooManyRequests, "too many requests, please try again later"))
}

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fErr *fiber.Error
	if errors.As(err, &fErr) {
		return c.Status(fErr.Code).JSON(errorResponse{
			Error: fErr.Message,
		})
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Code == fiber.StatusInternalServerError {
			msg = "internal server error"
		}

		return c.Status(appErr.Code).JSON(errorResponse{
			Error: msg,
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{
		Error: "internal server error",
	})
}

// readFiles loads the "files" parts of a multipart form keyed by the name the
// client sent, so folder uploads keep their relative paths.
func readFiles(form *multipart.Form) (map[string][]byte, error) {
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, models.ErrNoFiles
	}
	if len(headers) > constants.MaxFilesCount {
		return nil, models.ErrTooManyFiles
	}

	files := make(map[string][]byte, len(headers))
	for _, fh := range headers {
		name := fileName(fh)
		if name == "" {
			return nil, models.ErrInvalidFileName
		}
		if _, exists := files[name]; exists {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("duplicate file name: %s", name))
		}

		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files[name] = data
	}

	return files, nil
}

// fileName prefers the raw Content-Disposition filename, which the multipart
// reader would otherwise cut down to its base name.
func fileName(fh *multipart.FileHeader) string {
	_, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition"))
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return fh.Filename
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}

	return data, nil
}

func formValue(form *multipart.Form, key string) string {
	if values, ok := form.Value[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

func parseUint(s string, bits int) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, false
	}
	return v, true
}
