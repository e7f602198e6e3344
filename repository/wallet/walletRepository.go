package walletrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type Repo interface {
	Insert(ctx context.Context, a *model.WalletAccount) error
	Get(ctx context.Context, id uuid.UUID) (*model.WalletAccount, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.WalletAccount, error)

	// SetBalance writes the new balance guarded by the version counter;
	// a lost race surfaces STATE_CONFLICT.
	SetBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, balance decimal.Decimal, version int64) error

	// DebitedSince sums debit and fine entries at or after the cutoff,
	// for daily-spend-limit enforcement.
	DebitedSince(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)

	InsertEntry(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Insert(ctx context.Context, a *model.WalletAccount) error {
	const q = `
INSERT INTO wallet_accounts (id, user_id, currency, balance, max_balance, daily_spend_limit, version)
VALUES ($1,$2,$3,$4,$5,$6,1)`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.UserID, a.Currency, a.Balance, a.MaxBalance, a.DailySpendLimit)
	return err
}

const accountCols = `
SELECT id, user_id, currency, balance, max_balance, daily_spend_limit, version, created_at
FROM wallet_accounts
WHERE id = $1`

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*model.WalletAccount, error) {
	return scanAccount(r.db.QueryRowContext(ctx, accountCols, id))
}

func (r *repo) GetByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
	const q = `
SELECT id, user_id, currency, balance, max_balance, daily_spend_limit, version, created_at
FROM wallet_accounts
WHERE user_id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, q, userID))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.WalletAccount, error) {
	return scanAccount(tx.QueryRowContext(ctx, accountCols+` FOR UPDATE`, id))
}

func (r *repo) SetBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, balance decimal.Decimal, version int64) error {
	const q = `
UPDATE wallet_accounts
SET balance = $2,
    version = version + 1
WHERE id = $1
  AND version = $3`
	res, err := tx.ExecContext(ctx, q, id, balance, version)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return errs.New(errs.ErrStateConflict, "account changed concurrently")
	}
	return nil
}

func (r *repo) DebitedSince(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0)
FROM wallet_ledger
WHERE account_id = $1
  AND entry_type IN ('DEBIT','FINE')
  AND created_at >= $2`
	var sum decimal.Decimal
	err := tx.QueryRowContext(ctx, q, accountID, since).Scan(&sum)
	return sum, err
}

func (r *repo) InsertEntry(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO wallet_ledger (id, account_id, entry_type, amount, rental_id, balance_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	var rid uuid.NullUUID
	if e.RentalID != nil {
		rid = uuid.NullUUID{UUID: *e.RentalID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, q,
		e.ID, e.AccountID, e.EntryType, e.Amount, rid, e.BalanceAfter, e.CreatedAt)
	return err
}

func (r *repo) ListEntries(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error) {
	const q = `
SELECT id, account_id, entry_type, amount, rental_id, balance_after, created_at
FROM wallet_ledger
WHERE account_id = $1
ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var rid uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &rid, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		if rid.Valid {
			e.RentalID = &rid.UUID
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*model.WalletAccount, error) {
	var a model.WalletAccount
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance,
		&a.MaxBalance, &a.DailySpendLimit, &a.Version, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
