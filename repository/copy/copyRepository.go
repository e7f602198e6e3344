// repository/copy/repo.go
package copyrepo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type Repo interface {
	Insert(ctx context.Context, c *model.BookCopy) error
	Get(ctx context.Context, id uuid.UUID) (*model.BookCopy, error)

	// GetForUpdate row-locks the copy for the lifetime of tx.
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.BookCopy, error)

	// SetState writes status and claimant guarded by the version counter.
	// A concurrent writer bumping the version first surfaces STATE_CONFLICT.
	SetState(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.CopyStatus, claimant *uuid.UUID, version int64) error
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Insert(ctx context.Context, c *model.BookCopy) error {
	const q = `
INSERT INTO book_copies (id, publisher_id, title, daily_rate, book_value, max_rental_days, status, current_claimant, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,1)`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.PublisherID, c.Title, c.DailyRate, c.BookValue, c.MaxRentalDays, c.Status)
	return err
}

const copyCols = `
SELECT id, publisher_id, title, daily_rate, book_value, max_rental_days, status, current_claimant, version, created_at
FROM book_copies
WHERE id = $1`

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*model.BookCopy, error) {
	return scanCopy(r.db.QueryRowContext(ctx, copyCols, id))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.BookCopy, error) {
	return scanCopy(tx.QueryRowContext(ctx, copyCols+` FOR UPDATE`, id))
}

func (r *repo) SetState(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.CopyStatus, claimant *uuid.UUID, version int64) error {
	const q = `
UPDATE book_copies
SET status = $2,
    current_claimant = $3,
    version = version + 1
WHERE id = $1
  AND version = $4`
	var cl uuid.NullUUID
	if claimant != nil {
		cl = uuid.NullUUID{UUID: *claimant, Valid: true}
	}
	res, err := tx.ExecContext(ctx, q, id, status, cl, version)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return errs.New(errs.ErrStateConflict, "copy changed concurrently")
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCopy(row rowScanner) (*model.BookCopy, error) {
	var c model.BookCopy
	var cl uuid.NullUUID
	if err := row.Scan(&c.ID, &c.PublisherID, &c.Title, &c.DailyRate, &c.BookValue,
		&c.MaxRentalDays, &c.Status, &cl, &c.Version, &c.CreatedAt); err != nil {
		return nil, err
	}
	if cl.Valid {
		c.CurrentClaimant = &cl.UUID
	}
	return &c, nil
}
