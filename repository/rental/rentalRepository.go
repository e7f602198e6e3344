// repository/rental/repo.go
package rentalrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.RentalRecord, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error)
	Update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error

	// HasLive reports whether the copy already has a non-terminal record.
	HasLive(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error)

	// MarkOverdue transitions an active rental and overwrites its accrued
	// late fee. Safe to repeat: a second run in the same sweep period
	// writes the same amount.
	MarkOverdue(ctx context.Context, tx *sql.Tx, id uuid.UUID, lateFee decimal.Decimal, now time.Time) error

	ListDue(ctx context.Context, now time.Time) ([]model.RentalRecord, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]model.RentalRecord, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]model.RentalRecord, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
	const q = `
INSERT INTO rentals (id, copy_id, borrower_id, publisher_id, status,
                     requested_start, requested_end, actual_start, actual_end, hold_expiry,
                     base_cost, late_fee, damage_fee, lost_fee, base_paid, late_fee_paid,
                     notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	_, err := tx.ExecContext(ctx, q,
		rec.ID, rec.CopyID, rec.BorrowerID, rec.PublisherID, rec.Status,
		rec.RequestedStart, rec.RequestedEnd, rec.ActualStart, rec.ActualEnd, rec.HoldExpiry,
		rec.Fees.BaseCost, rec.Fees.LateFee, rec.Fees.DamageFee, rec.Fees.LostFee,
		rec.Fees.BasePaid, rec.Fees.LateFeePaid,
		rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	// rentals carries a partial unique index on copy_id over non-terminal
	// statuses; losing that race is a conflict, not an internal error.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return errs.New(errs.ErrStateConflict, "copy already has a live rental")
	}
	return err
}

const rentalCols = `
SELECT id, copy_id, borrower_id, publisher_id, status,
       requested_start, requested_end, actual_start, actual_end, hold_expiry,
       base_cost, late_fee, damage_fee, lost_fee, base_paid, late_fee_paid,
       notes, created_at, updated_at
FROM rentals`

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*model.RentalRecord, error) {
	return scanRental(r.db.QueryRowContext(ctx, rentalCols+` WHERE id = $1`, id))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error) {
	return scanRental(tx.QueryRowContext(ctx, rentalCols+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *repo) Update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
	const q = `
UPDATE rentals
SET status = $2,
    actual_start = $3,
    actual_end = $4,
    hold_expiry = $5,
    base_cost = $6,
    late_fee = $7,
    damage_fee = $8,
    lost_fee = $9,
    base_paid = $10,
    late_fee_paid = $11,
    notes = $12,
    updated_at = $13
WHERE id = $1`
	res, err := tx.ExecContext(ctx, q,
		rec.ID, rec.Status, rec.ActualStart, rec.ActualEnd, rec.HoldExpiry,
		rec.Fees.BaseCost, rec.Fees.LateFee, rec.Fees.DamageFee, rec.Fees.LostFee,
		rec.Fees.BasePaid, rec.Fees.LateFeePaid, rec.Notes, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return errs.New(errs.ErrNotFound, "rental not found")
	}
	return nil
}

func (r *repo) HasLive(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM rentals
  WHERE copy_id = $1
    AND status NOT IN ('RETURNED','CANCELLED','REJECTED'))`
	var exists bool
	err := tx.QueryRowContext(ctx, q, copyID).Scan(&exists)
	return exists, err
}

func (r *repo) MarkOverdue(ctx context.Context, tx *sql.Tx, id uuid.UUID, lateFee decimal.Decimal, now time.Time) error {
	const q = `
UPDATE rentals
SET status = 'OVERDUE',
    late_fee = $2,
    updated_at = $3
WHERE id = $1
  AND status IN ('ACTIVE','OVERDUE')`
	res, err := tx.ExecContext(ctx, q, id, lateFee, now)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return errs.New(errs.ErrStateConflict, "rental no longer active")
	}
	return nil
}

func (r *repo) ListDue(ctx context.Context, now time.Time) ([]model.RentalRecord, error) {
	const q = ` WHERE status IN ('ACTIVE','OVERDUE') AND actual_end < $1 ORDER BY actual_end`
	return r.list(ctx, rentalCols+q, now)
}

func (r *repo) ListExpiredHolds(ctx context.Context, now time.Time) ([]model.RentalRecord, error) {
	const q = ` WHERE status = 'HOLD' AND hold_expiry < $1 ORDER BY hold_expiry`
	return r.list(ctx, rentalCols+q, now)
}

func (r *repo) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]model.RentalRecord, error) {
	const q = ` WHERE borrower_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, rentalCols+q, borrowerID)
}

func (r *repo) list(ctx context.Context, q string, args ...any) ([]model.RentalRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RentalRecord
	for rows.Next() {
		rec, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRental(row interface{ Scan(dest ...any) error }) (*model.RentalRecord, error) {
	var rec model.RentalRecord
	if err := row.Scan(&rec.ID, &rec.CopyID, &rec.BorrowerID, &rec.PublisherID, &rec.Status,
		&rec.RequestedStart, &rec.RequestedEnd, &rec.ActualStart, &rec.ActualEnd, &rec.HoldExpiry,
		&rec.Fees.BaseCost, &rec.Fees.LateFee, &rec.Fees.DamageFee, &rec.Fees.LostFee,
		&rec.Fees.BasePaid, &rec.Fees.LateFeePaid,
		&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
