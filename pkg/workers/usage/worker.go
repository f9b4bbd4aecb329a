package usageworker

import (
	"context"
	"log/slog"
	"time"

	"pinledger-backend/pkg/models/db"
)

const failureRetryInterval = 5 * time.Minute

type usageService interface {
	DailySnapshot(ctx context.Context) (db.UsageSnapshot, []db.UsageAlert, error)
	WeeklyComparison(ctx context.Context) (db.UsageComparison, []db.UsageAlert, error)
}

type usageWorker struct {
	usage              usageService
	snapshotInterval   time.Duration
	comparisonInterval time.Duration
	logger             *slog.Logger
}

type Worker interface {
	TakeSnapshot(ctx context.Context) (interval time.Duration, err error)
	CompareUsage(ctx context.Context) (interval time.Duration, err error)
}

func (w *usageWorker) TakeSnapshot(ctx context.Context) (interval time.Duration, err error) {
	log := w.logger.With(slog.String("worker", "TakeSnapshot"))

	snapshot, alerts, err := w.usage.DailySnapshot(ctx)
	if err != nil {
		return failureRetryInterval, err
	}

	if len(alerts) > 0 {
		log.Info("snapshot raised alerts", slog.Int("count", len(alerts)), slog.String("snapshot_id", snapshot.ID))
	}

	return w.snapshotInterval, nil
}

func (w *usageWorker) CompareUsage(ctx context.Context) (interval time.Duration, err error) {
	log := w.logger.With(slog.String("worker", "CompareUsage"))

	comparison, _, err := w.usage.WeeklyComparison(ctx)
	if err != nil {
		return failureRetryInterval, err
	}

	log.Debug("comparison done", slog.String("status", string(comparison.Status)))

	return w.comparisonInterval, nil
}

func NewWorker(
	usage usageService,
	snapshotInterval time.Duration,
	comparisonInterval time.Duration,
	logger *slog.Logger,
) Worker {
	return &usageWorker{
		usage:              usage,
		snapshotInterval:   snapshotInterval,
		comparisonInterval: comparisonInterval,
		logger:             logger,
	}
}
