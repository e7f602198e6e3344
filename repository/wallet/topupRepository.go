package walletrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type TopupRepo interface {
	InsertTopup(ctx context.Context, tx *sql.Tx, t *model.WalletTopup) error
	FindTopupByInvoiceID(ctx context.Context, invoiceID string) (*model.WalletTopup, error)

	// MarkTopupPaid flips PENDING to PAID; an already-settled topup
	// surfaces STATE_CONFLICT so confirmations stay idempotent upstream.
	MarkTopupPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paidAt time.Time) error

	// ExpireStaleTopups fails PENDING rows whose invoice expiry passed.
	ExpireStaleTopups(ctx context.Context, now time.Time) (int64, error)
}

func NewTopup(db *sql.DB) TopupRepo { return &repo{db} }

func (r *repo) InsertTopup(ctx context.Context, tx *sql.Tx, t *model.WalletTopup) error {
	const q = `
INSERT INTO wallet_topups (id, account_id, amount, status, invoice_id, payment_link, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := tx.ExecContext(ctx, q,
		t.ID, t.AccountID, t.Amount, t.Status, t.InvoiceID, t.PaymentLink, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r *repo) FindTopupByInvoiceID(ctx context.Context, invoiceID string) (*model.WalletTopup, error) {
	const q = `
SELECT id, account_id, amount, status, invoice_id, payment_link, expires_at, paid_at, created_at
FROM wallet_topups
WHERE invoice_id = $1`
	var t model.WalletTopup
	if err := r.db.QueryRowContext(ctx, q, invoiceID).Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Status, &t.InvoiceID,
		&t.PaymentLink, &t.ExpiresAt, &t.PaidAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) MarkTopupPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paidAt time.Time) error {
	const q = `
UPDATE wallet_topups
SET status = 'PAID', paid_at = $2
WHERE id = $1 AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, q, id, paidAt)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return errs.New(errs.ErrStateConflict, "topup not pending")
	}
	return nil
}

func (r *repo) ExpireStaleTopups(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE wallet_topups
SET status = 'EXPIRED'
WHERE status = 'PENDING' AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
