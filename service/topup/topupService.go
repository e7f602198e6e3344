// Package topupsvc funds wallets through the external payment gateway.
// A top-up is a two-step exchange: Create issues an invoice and records a
// PENDING row; Confirm settles the row and credits the wallet when the
// gateway reports payment. Confirm is idempotent, the gateway retries
// its callbacks.
package topupsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	gatewayrepo "github.com/MightySuz/community-library-project-sub000/repository/gateway"
	walletsvc "github.com/MightySuz/community-library-project-sub000/service/wallet"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type Repo interface {
	InsertTopup(ctx context.Context, tx *sql.Tx, t *model.WalletTopup) error
	FindTopupByInvoiceID(ctx context.Context, invoiceID string) (*model.WalletTopup, error)
	MarkTopupPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paidAt time.Time) error
	ExpireStaleTopups(ctx context.Context, now time.Time) (int64, error)
}

type Service interface {
	Create(ctx context.Context, actor model.Actor, amount decimal.Decimal) (*model.WalletTopup, error)
	Confirm(ctx context.Context, invoiceID string) error

	// ExpireStale fails pending top-ups whose invoice lapsed unpaid.
	// Run periodically alongside the rental sweep.
	ExpireStale(ctx context.Context) (int64, error)
}

type TxRunner func(ctx context.Context, fn func(*sql.Tx) error) error

type Option func(*service)

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }
func WithTxRunner(run TxRunner) Option { return func(s *service) { s.runTx = run } }

type service struct {
	r         Repo
	wallet    walletsvc.Service
	gateway   gatewayrepo.Repo
	expirySec int
	now       func() time.Time
	runTx     TxRunner
}

func New(db *sql.DB, r Repo, wallet walletsvc.Service, gateway gatewayrepo.Repo, expirySec int, opts ...Option) Service {
	s := &service{
		r:         r,
		wallet:    wallet,
		gateway:   gateway,
		expirySec: expirySec,
		now:       func() time.Time { return time.Now().UTC() },
		runTx:     sqlRunner(db),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sqlRunner(db *sql.DB) TxRunner {
	return func(ctx context.Context, fn func(*sql.Tx) error) (err error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
		if err = fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}
}

// Create issues a gateway invoice for the actor's wallet and stores the
// pending top-up. The wallet's max-balance cap is checked up front so the
// user is not invoiced for money the account cannot hold.
func (s *service) Create(ctx context.Context, actor model.Actor, amount decimal.Decimal) (*model.WalletTopup, error) {
	if !amount.IsPositive() {
		return nil, errs.New(errs.ErrValidation, "top-up amount must be positive")
	}

	acc, err := s.wallet.AccountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if acc.MaxBalance.IsPositive() && acc.Balance.Add(amount).GreaterThan(acc.MaxBalance) {
		return nil, errs.New(errs.ErrLimitExceeded, "top-up would exceed the account's max balance")
	}

	id := uuid.New()
	inv, err := s.gateway.CreateInvoice(gatewayrepo.CreateInvoiceReq{
		ExternalID:  id.String(),
		Amount:      amount,
		Description: fmt.Sprintf("wallet top-up for account %s", acc.ID),
		ExpirySec:   s.expirySec,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiry := now.Add(time.Duration(s.expirySec) * time.Second)
	topup := &model.WalletTopup{
		ID:          id,
		AccountID:   acc.ID,
		Amount:      amount,
		Status:      model.TopupPending,
		InvoiceID:   &inv.InvoiceID,
		PaymentLink: &inv.InvoiceURL,
		ExpiresAt:   &expiry,
		CreatedAt:   now,
	}
	err = s.runTx(ctx, func(tx *sql.Tx) error {
		return s.r.InsertTopup(ctx, tx, topup)
	})
	if err != nil {
		return nil, err
	}
	return topup, nil
}

// Confirm settles the top-up behind a paid invoice and credits the wallet.
// A repeated confirmation of a settled top-up is a no-op.
func (s *service) Confirm(ctx context.Context, invoiceID string) error {
	topup, err := s.r.FindTopupByInvoiceID(ctx, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.ErrNotFound, "no top-up for invoice "+invoiceID)
	}
	if err != nil {
		return err
	}
	switch topup.Status {
	case model.TopupPaid:
		return nil
	case model.TopupPending:
	default:
		return errs.New(errs.ErrStateConflict, "topup is "+string(topup.Status))
	}

	return s.runTx(ctx, func(tx *sql.Tx) error {
		// The PENDING guard in the repo makes concurrent confirmations
		// settle exactly once. Losing the race is only a no-op when the
		// winner actually settled; the expiry sweep also competes for
		// the same row, and a paid invoice landing on an EXPIRED row
		// must surface, not vanish.
		if err := s.r.MarkTopupPaid(ctx, tx, topup.ID, s.now()); err != nil {
			if errs.Code(err) != errs.ErrStateConflict {
				return err
			}
			cur, ferr := s.r.FindTopupByInvoiceID(ctx, invoiceID)
			if ferr != nil {
				return ferr
			}
			if cur.Status == model.TopupPaid {
				return nil
			}
			return errs.New(errs.ErrStateConflict, "topup is "+string(cur.Status))
		}
		_, err := s.wallet.CreditTx(ctx, tx, topup.AccountID, topup.Amount, model.EntryCredit, nil)
		return err
	})
}

func (s *service) ExpireStale(ctx context.Context) (int64, error) {
	return s.r.ExpireStaleTopups(ctx, s.now())
}
