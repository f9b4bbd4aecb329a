package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pinledger-backend/pkg/models/db"
)

type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db pool
}

type Repository interface {
	ActiveUsage(ctx context.Context) (bytes uint64, uploads uint64, err error)
	InsertSnapshot(ctx context.Context, s db.UsageSnapshot) (err error)
	InsertComparison(ctx context.Context, c db.UsageComparison) (err error)
	CreateAlert(ctx context.Context, a db.UsageAlert) (created bool, err error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (resolved bool, err error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) (alerts []db.UsageAlert, err error)
}

// ActiveUsage sums confirmed deposits that have not been deleted.
func (r *repository) ActiveUsage(ctx context.Context) (bytes uint64, uploads uint64, err error) {
	query := `
		SELECT COALESCE(SUM(file_size), 0)::bigint, COUNT(*)
		FROM ledger.deposits
		WHERE deletion_status <> 'deleted'
			AND transaction_signature IS NOT NULL;
	`

	var total, count int64
	if err = r.db.QueryRow(ctx, query).Scan(&total, &count); err != nil {
		return
	}

	return uint64(total), uint64(count), nil
}

func (r *repository) InsertSnapshot(ctx context.Context, s db.UsageSnapshot) (err error) {
	query := `
		INSERT INTO usage.snapshots (id, internal_bytes, active_uploads, reported_bytes, plan_limit_bytes, utilization_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.InternalBytes,
		s.ActiveUploads,
		s.ReportedBytes,
		s.PlanLimitBytes,
		s.UtilizationPercent,
		s.CreatedAt,
	)

	return
}

func (r *repository) InsertComparison(ctx context.Context, c db.UsageComparison) (err error) {
	query := `
		INSERT INTO usage.comparisons (id, internal_bytes, reported_bytes, discrepancy_bytes, discrepancy_percent, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`

	_, err = r.db.Exec(ctx, query,
		c.ID,
		c.InternalBytes,
		c.ReportedBytes,
		c.DiscrepancyBytes,
		c.DiscrepancyPercent,
		string(c.Status),
		c.Note,
		c.CreatedAt,
	)

	return
}

// CreateAlert inserts the alert unless one of the same type is still
// unresolved. The partial unique index on alert_type decides.
func (r *repository) CreateAlert(ctx context.Context, a db.UsageAlert) (created bool, err error) {
	query := `
		INSERT INTO usage.alerts (id, alert_type, level, utilization_percent, bytes_stored, plan_limit_bytes, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (alert_type) WHERE resolved_at IS NULL DO NOTHING;
	`

	tag, err := r.db.Exec(ctx, query,
		a.ID,
		a.AlertType,
		string(a.Level),
		a.UtilizationPercent,
		a.BytesStored,
		a.PlanLimitBytes,
		a.Message,
		a.CreatedAt,
	)
	if err != nil {
		return
	}

	created = tag.RowsAffected() == 1

	return
}

func (r *repository) ResolveAlert(ctx context.Context, id string, at time.Time) (resolved bool, err error) {
	query := `
		UPDATE usage.alerts
		SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL;
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return
	}

	resolved = tag.RowsAffected() == 1

	return
}

func (r *repository) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) (alerts []db.UsageAlert, err error) {
	query := `
		SELECT id, alert_type, level, utilization_percent, bytes_stored, plan_limit_bytes, message, created_at, resolved_at
		FROM usage.alerts
		WHERE (NOT $1::boolean OR resolved_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $2;
	`

	rows, err := r.db.Query(ctx, query, unresolvedOnly, limit)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var a db.UsageAlert
		var level string
		if rErr := rows.Scan(
			&a.ID,
			&a.AlertType,
			&level,
			&a.UtilizationPercent,
			&a.BytesStored,
			&a.PlanLimitBytes,
			&a.Message,
			&a.CreatedAt,
			&a.ResolvedAt,
		); rErr != nil {
			err = rErr
			return
		}

		a.Level = db.AlertLevel(level)
		alerts = append(alerts, a)
	}

	err = rows.Err()

	return
}

func NewRepository(db pool) Repository {
	return &repository{
		db: db,
	}
}
