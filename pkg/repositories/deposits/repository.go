package deposits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pinledger-backend/pkg/models/db"
)

var (
	// ErrAlreadyExists means a deposit row for the cid is already present.
	ErrAlreadyExists = errors.New("deposit already exists")
	// ErrSignatureAlreadySet means another caller attached a signature first.
	ErrSignatureAlreadySet = errors.New("deposit signature already set")
	// ErrSignatureTaken means the signature is recorded for a different action.
	ErrSignatureTaken = errors.New("transaction signature already recorded")
	ErrNotFound       = errors.New("deposit not found")
)

const depositColumns = `
	id, cid, owner_address, file_name, file_type, file_size, duration_days,
	deposit_amount, deposit_slot, last_claimed_slot, created_at, expires_at,
	user_email, transaction_signature, deletion_status, warning_sent_at`

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db pool
}

type Repository interface {
	GetDepositByCID(ctx context.Context, cid string) (*db.Deposit, error)
	CreateDeposit(ctx context.Context, deposit db.Deposit, tx db.Transaction) (db.Deposit, error)
	AttachSignature(ctx context.Context, cid string, slot uint64, tx db.Transaction) (db.Deposit, error)
	ApplyRenewal(ctx context.Context, renewal db.Renewal) (deposit db.Deposit, applied bool, err error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]db.Deposit, int64, error)
}

func (r *repository) GetDepositByCID(ctx context.Context, cid string) (*db.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM ledger.deposits
		WHERE cid = $1;
	`

	d, err := scanDeposit(r.db.QueryRow(ctx, query, cid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &d, nil
}

// CreateDeposit inserts the deposit and its initial transaction atomically.
// The cid uniqueness constraint decides concurrent inserts.
func (r *repository) CreateDeposit(ctx context.Context, deposit db.Deposit, t db.Transaction) (created db.Deposit, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO ledger.deposits (
			cid, owner_address, file_name, file_type, file_size, duration_days,
			deposit_amount, deposit_slot, created_at, expires_at, user_email,
			transaction_signature, deletion_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'active')
		ON CONFLICT (cid) DO NOTHING
		RETURNING ` + depositColumns + `;
	`
	created, err = scanDeposit(tx.QueryRow(ctx, query,
		deposit.CID,
		deposit.OwnerAddress,
		deposit.FileName,
		deposit.FileType,
		deposit.FileSize,
		deposit.DurationDays,
		deposit.DepositAmount,
		deposit.DepositSlot,
		deposit.CreatedAt,
		deposit.ExpiresAt,
		deposit.UserEmail,
		deposit.TransactionSignature,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrAlreadyExists
			return
		}
		err = mapUniqueViolation(err)
		return
	}

	t.DepositID = created.ID
	if err = insertTransaction(ctx, tx, t); err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// AttachSignature completes a deposit whose insert landed without a signature.
// Only the first caller wins; later callers get ErrSignatureAlreadySet.
func (r *repository) AttachSignature(ctx context.Context, cid string, slot uint64, t db.Transaction) (updated db.Deposit, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		UPDATE ledger.deposits
		SET transaction_signature = $2,
			deposit_slot = $3
		WHERE cid = $1 AND transaction_signature IS NULL
		RETURNING ` + depositColumns + `;
	`
	updated, err = scanDeposit(tx.QueryRow(ctx, query, cid, t.Signature, slot))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrSignatureAlreadySet
			return
		}
		err = mapUniqueViolation(err)
		return
	}

	t.DepositID = updated.ID
	if err = insertTransaction(ctx, tx, t); err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// ApplyRenewal appends a renewal transaction and extends the deposit in one
// unit. A signature that was already applied to this cid returns applied=false
// with the current deposit.
func (r *repository) ApplyRenewal(ctx context.Context, renewal db.Renewal) (deposit db.Deposit, applied bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	insert := `
		INSERT INTO ledger.transactions (deposit_id, cid, signature, type, amount, duration_days, created_at)
		SELECT id, cid, $2, 'renewal', $3, $4, $5
		FROM ledger.deposits
		WHERE cid = $1 AND deletion_status <> 'deleted'
		ON CONFLICT (signature) DO NOTHING
		RETURNING id;
	`
	var txID int64
	err = tx.QueryRow(ctx, insert, renewal.CID, renewal.Signature, renewal.Amount, renewal.DurationDays, renewal.CreatedAt).Scan(&txID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return
		}

		// nothing inserted: either a retry of this renewal or a reused signature
		var existingCID string
		var existingType string
		lookup := `
			SELECT cid, type
			FROM ledger.transactions
			WHERE signature = $1;
		`
		err = tx.QueryRow(ctx, lookup, renewal.Signature).Scan(&existingCID, &existingType)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = ErrNotFound
			}
			return
		}

		if existingCID != renewal.CID || existingType != string(db.TransactionTypeRenewal) {
			err = ErrSignatureTaken
			return
		}

		deposit, err = scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM ledger.deposits WHERE cid = $1;`, renewal.CID))
		if err != nil {
			return
		}

		err = tx.Commit(ctx)
		return
	}

	update := `
		UPDATE ledger.deposits
		SET duration_days = duration_days + $2,
			expires_at = expires_at + make_interval(days => $2::int),
			deposit_amount = deposit_amount + $3
		WHERE cid = $1
		RETURNING ` + depositColumns + `;
	`
	deposit, err = scanDeposit(tx.QueryRow(ctx, update, renewal.CID, renewal.DurationDays, renewal.Amount))
	if err != nil {
		return
	}

	if err = tx.Commit(ctx); err != nil {
		return
	}

	applied = true

	return
}

func (r *repository) ListByOwner(ctx context.Context, owner string, limit, offset int) (deposits []db.Deposit, total int64, err error) {
	count := `
		SELECT COUNT(*)
		FROM ledger.deposits
		WHERE owner_address = $1 AND transaction_signature IS NOT NULL;
	`
	if err = r.db.QueryRow(ctx, count, owner).Scan(&total); err != nil {
		return
	}

	if total == 0 {
		return
	}

	query := `
		SELECT ` + depositColumns + `
		FROM ledger.deposits
		WHERE owner_address = $1 AND transaction_signature IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := r.db.Query(ctx, query, owner, limit, offset)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		d, sErr := scanDeposit(rows)
		if sErr != nil {
			err = sErr
			return
		}
		deposits = append(deposits, d)
	}

	err = rows.Err()

	return
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t db.Transaction) error {
	query := `
		INSERT INTO ledger.transactions (deposit_id, cid, signature, type, amount, duration_days, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := tx.Exec(ctx, query, t.DepositID, t.CID, t.Signature, string(t.Type), t.Amount, t.DurationDays, t.CreatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}

	return nil
}

func scanDeposit(row pgx.Row) (d db.Deposit, err error) {
	var status string
	err = row.Scan(
		&d.ID,
		&d.CID,
		&d.OwnerAddress,
		&d.FileName,
		&d.FileType,
		&d.FileSize,
		&d.DurationDays,
		&d.DepositAmount,
		&d.DepositSlot,
		&d.LastClaimedSlot,
		&d.CreatedAt,
		&d.ExpiresAt,
		&d.UserEmail,
		&d.TransactionSignature,
		&status,
		&d.WarningSentAt,
	)
	if err != nil {
		return
	}

	d.DeletionStatus = db.DeletionStatus(status)

	return
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ErrSignatureTaken, pgErr.ConstraintName)
	}

	return err
}

func NewRepository(db pool) Repository {
	return &repository{
		db: db,
	}
}
