package httpServer

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/models/db"
)

type pricing interface {
	Quote(ctx context.Context, sizeBytes uint64, durationDays uint32) (v1.Quote, error)
}

type deposits interface {
	Build(ctx context.Context, req v1.DepositRequest) (v1.DepositResponse, error)
	Confirm(ctx context.Context, req v1.ConfirmRequest) (v1.ConfirmStatus, v1.Deposit, error)
	History(ctx context.Context, owner string, page, limit int) (v1.HistoryResponse, error)
}

type uploads interface {
	Upload(ctx context.Context, cid string, files map[string][]byte) (v1.UploadResponse, error)
}

type renewals interface {
	QuoteRenewal(ctx context.Context, cid string, additionalDays uint32) (v1.RenewalCostResponse, error)
	BuildRenewal(ctx context.Context, req v1.RenewRequest) (v1.RenewResponse, error)
	ConfirmRenewal(ctx context.Context, req v1.ConfirmRenewalRequest) (v1.ConfirmStatus, v1.Deposit, error)
}

type usage interface {
	DailySnapshot(ctx context.Context) (db.UsageSnapshot, []db.UsageAlert, error)
	WeeklyComparison(ctx context.Context) (db.UsageComparison, []db.UsageAlert, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]db.UsageAlert, error)
	ResolveAlert(ctx context.Context, id string) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	server          *fiber.App
	logger          *slog.Logger
	pricing         pricing
	deposits        deposits
	uploads         uploads
	renewals        renewals
	usage           usage
	namespace       string
	subsystem       string
	adminAuthTokens map[string]struct{}
}

func New(
	server *fiber.App,
	pricing pricing,
	deposits deposits,
	uploads uploads,
	renewals renewals,
	usage usage,
	adminAuthTokens []string,
	namespace string,
	subsystem string,
	logger *slog.Logger,
) *handler {
	adminTokensMap := make(map[string]struct{})
	for _, token := range adminAuthTokens {
		if token == "" {
			continue
		}
		adminTokensMap[token] = struct{}{}
	}

	h := &handler{
		server:          server,
		pricing:         pricing,
		deposits:        deposits,
		uploads:         uploads,
		renewals:        renewals,
		usage:           usage,
		namespace:       namespace,
		subsystem:       subsystem,
		adminAuthTokens: adminTokensMap,
		logger:          logger,
	}

	return h
}
