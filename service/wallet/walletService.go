package walletsvc

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

// Repo is the persistence surface the ledger needs.
type Repo interface {
	Insert(ctx context.Context, a *model.WalletAccount) error
	Get(ctx context.Context, id uuid.UUID) (*model.WalletAccount, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.WalletAccount, error)
	SetBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, balance decimal.Decimal, version int64) error
	DebitedSince(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)
	InsertEntry(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error)
}

type Service interface {
	CreateAccount(ctx context.Context, userID uuid.UUID, currency string, maxBalance, dailySpendLimit decimal.Decimal) (*model.WalletAccount, error)
	AccountByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error)
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Ledger(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error)

	// Credit and Debit run in their own transaction.
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)

	// CreditTx and DebitTx join a caller-owned transaction so a checkout
	// or return moves funds inside the same unit of work that flips the
	// rental state. The caller commits or rolls back.
	CreditTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)
	DebitTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)
}

type service struct {
	db  *sql.DB
	r   Repo
	now func() time.Time
}

func New(db *sql.DB, r Repo) Service {
	return &service{db: db, r: r, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) CreateAccount(ctx context.Context, userID uuid.UUID, currency string, maxBalance, dailySpendLimit decimal.Decimal) (*model.WalletAccount, error) {
	if currency == "" {
		return nil, errs.New(errs.ErrValidation, "currency required")
	}
	if maxBalance.IsNegative() || dailySpendLimit.IsNegative() {
		return nil, errs.New(errs.ErrValidation, "limits must not be negative")
	}
	a := &model.WalletAccount{
		ID:              uuid.New(),
		UserID:          userID,
		Currency:        currency,
		Balance:         decimal.Zero,
		MaxBalance:      maxBalance,
		DailySpendLimit: dailySpendLimit,
		CreatedAt:       s.now(),
	}
	if err := s.r.Insert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *service) AccountByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
	a, err := s.r.GetByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrNotFound, "no wallet for user")
	}
	return a, err
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	a, err := s.r.Get(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, errs.New(errs.ErrNotFound, "account not found")
	}
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

func (s *service) Ledger(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error) {
	return s.r.ListEntries(ctx, accountID)
}

func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (bal decimal.Decimal, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if bal, err = s.CreditTx(ctx, tx, accountID, amount, entryType, rentalID); err != nil {
		return decimal.Zero, err
	}
	err = tx.Commit()
	return bal, err
}

func (s *service) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (bal decimal.Decimal, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if bal, err = s.DebitTx(ctx, tx, accountID, amount, entryType, rentalID); err != nil {
		return decimal.Zero, err
	}
	err = tx.Commit()
	return bal, err
}

func (s *service) CreditTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	if entryType != model.EntryCredit && entryType != model.EntryRefund {
		return decimal.Zero, errs.New(errs.ErrValidation, "credit entry type must be CREDIT or REFUND")
	}
	if !amount.IsPositive() {
		return decimal.Zero, errs.New(errs.ErrValidation, "amount must be positive")
	}

	a, err := s.r.GetForUpdate(ctx, tx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, errs.New(errs.ErrNotFound, "account not found")
	}
	if err != nil {
		return decimal.Zero, err
	}

	newBal := a.Balance.Add(amount)
	if a.MaxBalance.IsPositive() && newBal.GreaterThan(a.MaxBalance) {
		return decimal.Zero, errs.New(errs.ErrLimitExceeded, "credit would exceed max balance")
	}
	return s.apply(ctx, tx, a, newBal, entryType, amount, rentalID)
}

func (s *service) DebitTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	if entryType != model.EntryDebit && entryType != model.EntryFine {
		return decimal.Zero, errs.New(errs.ErrValidation, "debit entry type must be DEBIT or FINE")
	}
	if !amount.IsPositive() {
		return decimal.Zero, errs.New(errs.ErrValidation, "amount must be positive")
	}

	a, err := s.r.GetForUpdate(ctx, tx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, errs.New(errs.ErrNotFound, "account not found")
	}
	if err != nil {
		return decimal.Zero, err
	}

	// Balance never goes below zero, fines included.
	if a.Balance.LessThan(amount) {
		return decimal.Zero, errs.New(errs.ErrInsufficientFunds, "balance "+a.Balance.StringFixed(2)+" below "+amount.StringFixed(2))
	}
	if a.DailySpendLimit.IsPositive() {
		midnight := s.now().Truncate(24 * time.Hour)
		spent, err := s.r.DebitedSince(ctx, tx, accountID, midnight)
		if err != nil {
			return decimal.Zero, err
		}
		if spent.Add(amount).GreaterThan(a.DailySpendLimit) {
			return decimal.Zero, errs.New(errs.ErrLimitExceeded, "daily spend limit reached")
		}
	}
	return s.apply(ctx, tx, a, a.Balance.Sub(amount), entryType, amount, rentalID)
}

func (s *service) apply(ctx context.Context, tx *sql.Tx, a *model.WalletAccount, newBal decimal.Decimal, entryType model.EntryType, amount decimal.Decimal, rentalID *uuid.UUID) (decimal.Decimal, error) {
	if err := s.r.SetBalance(ctx, tx, a.ID, newBal, a.Version); err != nil {
		return decimal.Zero, err
	}
	entry := &model.LedgerEntry{
		ID:           ulid.Make().String(),
		AccountID:    a.ID,
		EntryType:    entryType,
		Amount:       amount,
		RentalID:     rentalID,
		BalanceAfter: newBal,
		CreatedAt:    s.now(),
	}
	if err := s.r.InsertEntry(ctx, tx, entry); err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}
