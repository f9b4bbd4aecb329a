package httpServer

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
)

func (h *handler) quote(c *fiber.Ctx) error {
	size, ok := parseUint(c.Query("size"), 64)
	if !ok {
		return errorHandler(c, models.ErrInvalidSize)
	}

	days, ok := parseUint(c.Query("duration"), 32)
	if !ok {
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid duration"))
	}

	q, err := h.pricing.Quote(c.Context(), size, uint32(days))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v1.QuoteResponse{Quote: q})
}

func (h *handler) buildDeposit(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	mp, err := c.MultipartForm()
	if err != nil {
		log.Error("failed to get multipart form", slog.Any("error", err))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid multipart form"))
	}

	files, err := readFiles(mp)
	if err != nil {
		log.Warn("failed to read files from form", slog.Any("error", err))
		return errorHandler(c, err)
	}

	owner := strings.TrimSpace(formValue(mp, "publicKey"))
	durationRaw := formValue(mp, "duration")
	if owner == "" || durationRaw == "" {
		return errorHandler(c, models.ErrMissingFields)
	}

	duration, err := strconv.ParseInt(durationRaw, 10, 64)
	if err != nil {
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid duration"))
	}

	req := v1.DepositRequest{
		Owner:           owner,
		Files:           files,
		DurationSeconds: duration,
	}
	if email := strings.TrimSpace(formValue(mp, "userEmail")); email != "" {
		req.UserEmail = &email
	}

	resp, err := h.deposits.Build(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) confirmDeposit(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.Any("error", err))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	status, deposit, err := h.deposits.Confirm(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return confirmResponse(c, status, deposit)
}

func (h *handler) uploadFiles(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	mp, err := c.MultipartForm()
	if err != nil {
		log.Error("failed to get multipart form", slog.Any("error", err))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid multipart form"))
	}

	cid := strings.TrimSpace(formValue(mp, "cid"))
	if cid == "" {
		return errorHandler(c, models.ErrMissingFields)
	}

	files, err := readFiles(mp)
	if err != nil {
		log.Warn("failed to read files from form", slog.Any("error", err))
		return errorHandler(c, err)
	}

	resp, err := h.uploads.Upload(c.Context(), cid, files)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) history(c *fiber.Ctx) error {
	owner := strings.TrimSpace(c.Query("userAddress"))
	if owner == "" {
		return errorHandler(c, models.ErrMissingFields)
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", constants.HistoryDefaultLimit)

	resp, err := h.deposits.History(c.Context(), owner, page, limit)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) renewalCost(c *fiber.Ctx) error {
	cid := strings.TrimSpace(c.Query("cid"))
	if cid == "" {
		return errorHandler(c, models.ErrMissingFields)
	}

	days, ok := parseUint(c.Query("duration"), 32)
	if !ok || days == 0 {
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid duration"))
	}

	resp, err := h.renewals.QuoteRenewal(c.Context(), cid, uint32(days))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) renew(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.RenewRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.Any("error", err))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	resp, err := h.renewals.BuildRenewal(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) confirmRenewal(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	var req v1.ConfirmRenewalRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.Any("error", err))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	status, deposit, err := h.renewals.ConfirmRenewal(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return confirmResponse(c, status, deposit)
}

func (h *handler) listAlerts(c *fiber.Ctx) error {
	unresolved := c.QueryBool("unresolved", false)
	limit := c.QueryInt("limit", 0)

	alerts, err := h.usage.ListAlerts(c.Context(), unresolved, limit)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"alerts": alerts,
	})
}

func (h *handler) resolveAlert(c *fiber.Ctx) error {
	if err := h.usage.ResolveAlert(c.Context(), c.Params("id")); err != nil {
		return errorHandler(c, err)
	}

	return okHandler(c)
}

func (h *handler) takeSnapshot(c *fiber.Ctx) error {
	snapshot, alerts, err := h.usage.DailySnapshot(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"snapshot": snapshot,
		"alerts":   alerts,
	})
}

func (h *handler) compareUsage(c *fiber.Ctx) error {
	comparison, alerts, err := h.usage.WeeklyComparison(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"comparison": comparison,
		"alerts":     alerts,
	})
}

func (h *handler) health(c *fiber.Ctx) error {
	return okHandler(c)
}

func (h *handler) metrics(c *fiber.Ctx) error {
	m := promhttp.Handler()

	return adaptor.HTTPHandler(m)(c)
}

// confirmResponse answers a repeated confirmation with 409 and the stored
// record so clients can treat it as success.
func confirmResponse(c *fiber.Ctx, status v1.ConfirmStatus, deposit v1.Deposit) error {
	code := fiber.StatusOK
	if status == v1.ConfirmStatusAlreadyConfirmed {
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(v1.ConfirmResponse{
		Status:  status,
		Deposit: deposit,
	})
}
