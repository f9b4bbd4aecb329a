package usage

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	storageClient "pinledger-backend/pkg/clients/storage"
	"pinledger-backend/pkg/models"
	"pinledger-backend/pkg/models/db"
)

const (
	AlertTypeComparison = "comparison_discrepancy"

	snapshotWindow   = 24 * time.Hour
	comparisonWindow = 7 * 24 * time.Hour

	warningDiscrepancyPercent  = 5.0
	criticalDiscrepancyPercent = 10.0

	defaultAlertsLimit = 50
	maxAlertsLimit     = 500
)

type threshold struct {
	percent float64
	level   db.AlertLevel
}

// ascending; each crossed threshold raises its own alert type
var thresholds = []threshold{
	{percent: 80, level: db.AlertLevelWarning},
	{percent: 90, level: db.AlertLevelCritical},
	{percent: 95, level: db.AlertLevelCritical},
}

type service struct {
	usage          usageDb
	storage        storage
	notifier       notifier
	recipients     []string
	planLimitBytes uint64
	now            func() time.Time
	logger         *slog.Logger
}

type usageDb interface {
	ActiveUsage(ctx context.Context) (bytes uint64, uploads uint64, err error)
	InsertSnapshot(ctx context.Context, s db.UsageSnapshot) error
	InsertComparison(ctx context.Context, c db.UsageComparison) error
	CreateAlert(ctx context.Context, a db.UsageAlert) (bool, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (bool, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]db.UsageAlert, error)
}

type storage interface {
	ReportUsage(ctx context.Context, from, to time.Time) (storageClient.UsageReport, error)
	PlanLimit(ctx context.Context) (limit uint64, unlimited bool, err error)
}

type notifier interface {
	Send(ctx context.Context, to []string, subject, html, text string) error
}

type Usage interface {
	DailySnapshot(ctx context.Context) (db.UsageSnapshot, []db.UsageAlert, error)
	WeeklyComparison(ctx context.Context) (db.UsageComparison, []db.UsageAlert, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]db.UsageAlert, error)
	ResolveAlert(ctx context.Context, id string) error
}

// DailySnapshot records current utilization and raises threshold alerts that
// are not already open. Returned alerts are only the newly created ones.
func (s *service) DailySnapshot(ctx context.Context) (snapshot db.UsageSnapshot, created []db.UsageAlert, err error) {
	log := s.logger.With(slog.String("method", "DailySnapshot"))

	now := s.now().UTC()

	var (
		internal, uploads uint64
		report            storageClient.UsageReport
		limit             uint64
		unlimited         bool
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (gErr error) {
		internal, uploads, gErr = s.usage.ActiveUsage(gCtx)
		if gErr != nil {
			return fmt.Errorf("active usage: %w", gErr)
		}
		return nil
	})
	g.Go(func() (gErr error) {
		report, gErr = s.storage.ReportUsage(gCtx, now.Add(-snapshotWindow), now)
		if gErr != nil {
			return fmt.Errorf("usage report: %w", gErr)
		}
		return nil
	})
	g.Go(func() (gErr error) {
		limit, unlimited, gErr = s.planLimit(gCtx)
		if gErr != nil {
			return fmt.Errorf("plan limit: %w", gErr)
		}
		return nil
	})
	if gErr := g.Wait(); gErr != nil {
		log.Error("failed to collect usage totals", slog.Any("error", gErr))
		err = models.ErrUpstream
		return
	}

	used := internal
	if report.FinalSize > 0 {
		used = report.FinalSize
	}

	snapshot = db.UsageSnapshot{
		ID:            uuid.NewString(),
		InternalBytes: internal,
		ActiveUploads: uploads,
		ReportedBytes: report.FinalSize,
		CreatedAt:     now,
	}
	if !unlimited && limit > 0 {
		utilization := float64(used) * 100 / float64(limit)
		snapshot.PlanLimitBytes = &limit
		snapshot.UtilizationPercent = &utilization
	}

	if err = s.usage.InsertSnapshot(ctx, snapshot); err != nil {
		log.Error("failed to save snapshot", slog.Any("error", err))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	log.Info("usage snapshot saved",
		slog.Uint64("internal_bytes", internal),
		slog.Uint64("reported_bytes", report.FinalSize),
		slog.Uint64("active_uploads", uploads),
	)

	if snapshot.UtilizationPercent == nil {
		return
	}

	utilization := *snapshot.UtilizationPercent
	for _, t := range thresholds {
		if utilization < t.percent {
			break
		}

		alert := db.UsageAlert{
			ID:                 uuid.NewString(),
			AlertType:          fmt.Sprintf("threshold_%d", int(t.percent)),
			Level:              t.level,
			UtilizationPercent: &utilization,
			BytesStored:        &used,
			PlanLimitBytes:     &limit,
			Message: fmt.Sprintf("Storage utilization is %.1f%% (%s of %s)",
				utilization, humanize.Bytes(used), humanize.Bytes(limit)),
			CreatedAt: now,
		}

		ok, aErr := s.raise(ctx, log, alert)
		if aErr != nil {
			err = aErr
			return
		}
		if ok {
			created = append(created, alert)
		}
	}

	return
}

// WeeklyComparison audits the ledger total against the network's report.
func (s *service) WeeklyComparison(ctx context.Context) (comparison db.UsageComparison, created []db.UsageAlert, err error) {
	log := s.logger.With(slog.String("method", "WeeklyComparison"))

	now := s.now().UTC()

	var (
		internal uint64
		report   storageClient.UsageReport
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (gErr error) {
		internal, _, gErr = s.usage.ActiveUsage(gCtx)
		if gErr != nil {
			return fmt.Errorf("active usage: %w", gErr)
		}
		return nil
	})
	g.Go(func() (gErr error) {
		report, gErr = s.storage.ReportUsage(gCtx, now.Add(-comparisonWindow), now)
		if gErr != nil {
			return fmt.Errorf("usage report: %w", gErr)
		}
		return nil
	})
	if gErr := g.Wait(); gErr != nil {
		log.Error("failed to collect usage totals", slog.Any("error", gErr))
		err = models.ErrUpstream
		return
	}

	comparison = compare(internal, report.FinalSize)
	comparison.ID = uuid.NewString()
	comparison.CreatedAt = now

	if err = s.usage.InsertComparison(ctx, comparison); err != nil {
		log.Error("failed to save comparison", slog.Any("error", err))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	log.Info("usage comparison saved",
		slog.String("status", string(comparison.Status)),
		slog.Float64("discrepancy_percent", comparison.DiscrepancyPercent),
	)

	if comparison.Status == db.ComparisonStatusOK {
		return
	}

	level := db.AlertLevelWarning
	if comparison.Status == db.ComparisonStatusCritical {
		level = db.AlertLevelCritical
	}

	reported := report.FinalSize
	alert := db.UsageAlert{
		ID:          uuid.NewString(),
		AlertType:   AlertTypeComparison,
		Level:       level,
		BytesStored: &reported,
		Message:     comparison.Note,
		CreatedAt:   now,
	}

	ok, err := s.raise(ctx, log, alert)
	if err != nil {
		return
	}
	if ok {
		created = append(created, alert)
	}

	return
}

func (s *service) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) (alerts []db.UsageAlert, err error) {
	if limit <= 0 {
		limit = defaultAlertsLimit
	}
	if limit > maxAlertsLimit {
		limit = maxAlertsLimit
	}

	alerts, err = s.usage.ListAlerts(ctx, unresolvedOnly, limit)
	if err != nil {
		s.logger.Error("failed to list alerts", slog.String("method", "ListAlerts"), slog.Any("error", err))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	if alerts == nil {
		alerts = []db.UsageAlert{}
	}

	return
}

func (s *service) ResolveAlert(ctx context.Context, id string) error {
	log := s.logger.With(
		slog.String("method", "ResolveAlert"),
		slog.String("id", id),
	)

	if _, err := uuid.Parse(id); err != nil {
		return models.ErrAlertNotFound
	}

	resolved, err := s.usage.ResolveAlert(ctx, id, s.now().UTC())
	if err != nil {
		log.Error("failed to resolve alert", slog.Any("error", err))
		return models.NewAppError(models.InternalServerErrorCode, "")
	}
	if !resolved {
		return models.ErrAlertNotFound
	}

	log.Info("alert resolved")

	return nil
}

// raise stores the alert unless one of its type is open, then notifies.
// Delivery failures never fail the caller.
func (s *service) raise(ctx context.Context, log *slog.Logger, alert db.UsageAlert) (bool, error) {
	created, err := s.usage.CreateAlert(ctx, alert)
	if err != nil {
		log.Error("failed to create alert", slog.String("type", alert.AlertType), slog.Any("error", err))
		return false, models.NewAppError(models.InternalServerErrorCode, "")
	}
	if !created {
		log.Debug("alert already open", slog.String("type", alert.AlertType))
		return false, nil
	}

	log.Warn("usage alert raised",
		slog.String("type", alert.AlertType),
		slog.String("level", string(alert.Level)),
		slog.String("message", alert.Message),
	)

	subject := fmt.Sprintf("[%s] storage alert: %s", alert.Level, alert.AlertType)
	body := fmt.Sprintf("<p><b>%s</b></p><p>%s</p><p>Raised at %s</p>",
		html.EscapeString(alert.AlertType), html.EscapeString(alert.Message), alert.CreatedAt.Format(time.RFC1123))
	text := fmt.Sprintf("%s\n\n%s\n\nRaised at %s\n", alert.AlertType, alert.Message, alert.CreatedAt.Format(time.RFC1123))

	if nErr := s.notifier.Send(ctx, s.recipients, subject, body, text); nErr != nil {
		log.Error("failed to send alert email", slog.String("type", alert.AlertType), slog.Any("error", nErr))
	}

	return true, nil
}

func (s *service) planLimit(ctx context.Context) (uint64, bool, error) {
	if s.planLimitBytes > 0 {
		return s.planLimitBytes, false, nil
	}

	return s.storage.PlanLimit(ctx)
}

func compare(internal, reported uint64) db.UsageComparison {
	c := db.UsageComparison{
		InternalBytes:    internal,
		ReportedBytes:    reported,
		DiscrepancyBytes: int64(reported) - int64(internal),
		Status:           db.ComparisonStatusOK,
	}

	if internal > 0 {
		c.DiscrepancyPercent = math.Abs(float64(c.DiscrepancyBytes)) * 100 / float64(internal)
	}

	switch {
	case c.DiscrepancyPercent > criticalDiscrepancyPercent:
		c.Status = db.ComparisonStatusCritical
	case c.DiscrepancyPercent > warningDiscrepancyPercent:
		c.Status = db.ComparisonStatusWarning
	}

	sign := "+"
	abs := uint64(c.DiscrepancyBytes)
	if c.DiscrepancyBytes < 0 {
		sign = "-"
		abs = uint64(-c.DiscrepancyBytes)
	}
	c.Note = fmt.Sprintf("ledger %s, network %s, discrepancy %s%s (%.2f%%)",
		humanize.Bytes(internal), humanize.Bytes(reported), sign, humanize.Bytes(abs), c.DiscrepancyPercent)

	return c
}

func NewService(
	usage usageDb,
	storage storage,
	notifier notifier,
	recipients []string,
	planLimitBytes uint64,
	logger *slog.Logger,
) Usage {
	return &service{
		usage:          usage,
		storage:        storage,
		notifier:       notifier,
		recipients:     recipients,
		planLimitBytes: planLimitBytes,
		now:            time.Now,
		logger:         logger,
	}
}
