package system

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// RatePerByteDayKey holds the storage price in the stable unit per byte per day.
	RatePerByteDayKey = "storage_rate_per_byte_day"
)

type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db pool
}

type Repository interface {
	SetParam(ctx context.Context, key string, value string) (err error)
	GetParam(ctx context.Context, key string) (value string, err error)
}

func (r *repository) SetParam(ctx context.Context, key string, value string) (err error) {
	query := `
		INSERT INTO system.params (key, value)
		VALUES (
			$1,
			$2
		)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = now();
	`

	_, err = r.db.Exec(ctx, query, key, value)

	return
}

// GetParam returns an empty value when the key is not set.
func (r *repository) GetParam(ctx context.Context, key string) (value string, err error) {
	query := `
		SELECT value
		FROM system.params
		WHERE key = $1
		LIMIT 1;
	`

	err = r.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}

	return
}

func NewRepository(db pool) Repository {
	return &repository{
		db: db,
	}
}
