// Package rentalsvc drives a rental record through its lifecycle:
//
//	HOLD -> PENDING -> APPROVED -> ACTIVE -> (OVERDUE) -> RETURNED
//
// with CANCELLED and REJECTED terminal from HOLD/PENDING. Every transition
// runs as one transaction covering the record, the copy's claim state, and
// any wallet movement; a failed leg rolls back the whole step.
package rentalsvc

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	availsvc "github.com/MightySuz/community-library-project-sub000/service/availability"
	"github.com/MightySuz/community-library-project-sub000/service/fees"
	notifysvc "github.com/MightySuz/community-library-project-sub000/service/notify"
	walletsvc "github.com/MightySuz/community-library-project-sub000/service/wallet"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

// maxAttempts bounds retries after losing a version-counter race.
const maxAttempts = 3

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.RentalRecord, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error)
	Update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	HasLive(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]model.RentalRecord, error)
}

// ScheduleRepo hands out the current fee configuration, re-read for every
// fee computation.
type ScheduleRepo interface {
	Load(ctx context.Context) (*model.FeeSchedule, error)
}

type PlaceHoldCmd struct {
	CopyID         uuid.UUID `validate:"required"`
	HoldDays       int       `validate:"required,gte=1,lte=3"`
	RequestedStart time.Time `validate:"required"`
	RequestedEnd   time.Time `validate:"required,gtfield=RequestedStart"`
}

type ApproveCmd struct {
	RentalID uuid.UUID `validate:"required"`
	Start    *time.Time
	End      *time.Time
}

type Service interface {
	PlaceHold(ctx context.Context, actor model.Actor, cmd PlaceHoldCmd) (*model.RentalRecord, error)
	CancelHold(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error
	ConvertHoldToRequest(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error
	Approve(ctx context.Context, actor model.Actor, cmd ApproveCmd) error
	Reject(ctx context.Context, actor model.Actor, rentalID uuid.UUID, reason string) error
	Checkout(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error
	Return(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error

	Get(ctx context.Context, rentalID uuid.UUID) (*model.RentalRecord, error)
	History(ctx context.Context, actor model.Actor) ([]model.RentalRecord, error)
}

// TxRunner opens a transaction, runs fn, and commits or rolls back.
// The default wraps *sql.DB; tests substitute their own.
type TxRunner func(ctx context.Context, fn func(*sql.Tx) error) error

type Option func(*service)

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }
func WithTxRunner(run TxRunner) Option { return func(s *service) { s.runTx = run } }

type service struct {
	r      Repo
	copies availsvc.Service
	wallet walletsvc.Service
	sched  ScheduleRepo
	pub    notifysvc.Publisher
	v      *validator.Validate
	now    func() time.Time
	runTx  TxRunner
}

// New wires the state machine with its collaborators. All dependencies are
// explicit; nothing is reached through package state.
func New(db *sql.DB, r Repo, copies availsvc.Service, wallet walletsvc.Service, sched ScheduleRepo, pub notifysvc.Publisher, opts ...Option) Service {
	s := &service{
		r:      r,
		copies: copies,
		wallet: wallet,
		sched:  sched,
		pub:    pub,
		v:      validator.New(),
		now:    func() time.Time { return time.Now().UTC() },
		runTx:  sqlRunner(db),
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

func (s *service) PlaceHold(ctx context.Context, actor model.Actor, cmd PlaceHoldCmd) (*model.RentalRecord, error) {
	if err := s.v.Struct(cmd); err != nil {
		return nil, errs.New(errs.ErrValidation, err.Error())
	}

	c, err := s.copies.Get(ctx, cmd.CopyID)
	if err != nil {
		return nil, err
	}
	if days := fees.Days(cmd.RequestedStart, cmd.RequestedEnd); days > int64(c.MaxRentalDays) {
		return nil, errs.New(errs.ErrValidation, "requested span exceeds the copy's max rental days")
	}

	// Affordability pre-check only; no funds are reserved.
	acc, err := s.wallet.AccountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if acc.Balance.LessThan(c.DailyRate) {
		return nil, errs.New(errs.ErrInsufficientFunds, "balance below one day's rate")
	}

	var rec *model.RentalRecord
	err = s.retry(func() error {
		return s.runTx(ctx, func(tx *sql.Tx) error {
			live, err := s.r.HasLive(ctx, tx, cmd.CopyID)
			if err != nil {
				return err
			}
			if live {
				return errs.New(errs.ErrStateConflict, "copy already has a live rental")
			}
			if err := s.copies.PlaceHold(ctx, tx, cmd.CopyID, actor.ID); err != nil {
				return err
			}
			now := s.now()
			expiry := now.Add(time.Duration(cmd.HoldDays) * 24 * time.Hour)
			rec = &model.RentalRecord{
				ID:             uuid.New(),
				CopyID:         cmd.CopyID,
				BorrowerID:     actor.ID,
				PublisherID:    c.PublisherID,
				Status:         model.RentalHold,
				RequestedStart: cmd.RequestedStart,
				RequestedEnd:   cmd.RequestedEnd,
				HoldExpiry:     &expiry,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return s.r.Insert(ctx, tx, rec)
		})
	})
	if err != nil {
		return nil, err
	}
	s.emit(rec, "", actor.ID, nil)
	return rec, nil
}

func (s *service) CancelHold(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error {
	return s.retry(func() error {
		return s.step(ctx, rentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalHold {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if rec.BorrowerID != actor.ID {
				return errs.New(errs.ErrUnauthorized, "not the hold owner")
			}
			if err := s.copies.ReleaseHold(ctx, tx, rec.CopyID); err != nil {
				return err
			}
			rec.Status = model.RentalCancelled
			return s.update(ctx, tx, rec)
		}, actor.ID, nil)
	})
}

func (s *service) ConvertHoldToRequest(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error {
	return s.retry(func() error {
		return s.step(ctx, rentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalHold {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if rec.BorrowerID != actor.ID {
				return errs.New(errs.ErrUnauthorized, "not the hold owner")
			}
			if rec.HoldExpiry != nil && !s.now().Before(*rec.HoldExpiry) {
				return errs.New(errs.ErrStateConflict, "hold expired")
			}
			rec.Status = model.RentalPending
			return s.update(ctx, tx, rec)
		}, actor.ID, nil)
	})
}

func (s *service) Approve(ctx context.Context, actor model.Actor, cmd ApproveCmd) error {
	if err := s.v.Struct(cmd); err != nil {
		return errs.New(errs.ErrValidation, err.Error())
	}
	return s.retry(func() error {
		return s.step(ctx, cmd.RentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalPending {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if rec.PublisherID != actor.ID {
				return errs.New(errs.ErrUnauthorized, "not the copy's publisher")
			}
			c, err := s.copies.Get(ctx, rec.CopyID)
			if err != nil {
				return err
			}
			heldByThis := c.Status == model.CopyHeld &&
				c.CurrentClaimant != nil && *c.CurrentClaimant == rec.BorrowerID
			if c.Status != model.CopyAvailable && !heldByThis {
				return errs.New(errs.ErrStateConflict, "copy no longer claimable by this request")
			}

			start := rec.RequestedStart
			if cmd.Start != nil {
				start = *cmd.Start
			}
			end := rec.RequestedEnd
			if cmd.End != nil {
				end = *cmd.End
			}
			if !end.After(start) {
				return errs.New(errs.ErrValidation, "end date must be after start date")
			}
			rec.ActualStart = &start
			rec.ActualEnd = &end
			rec.Status = model.RentalApproved
			return s.update(ctx, tx, rec)
		}, actor.ID, nil)
	})
}

func (s *service) Reject(ctx context.Context, actor model.Actor, rentalID uuid.UUID, reason string) error {
	return s.retry(func() error {
		return s.step(ctx, rentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalPending {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if rec.PublisherID != actor.ID {
				return errs.New(errs.ErrUnauthorized, "not the copy's publisher")
			}
			if err := s.copies.ReleaseHold(ctx, tx, rec.CopyID); err != nil {
				return err
			}
			rec.Status = model.RentalRejected
			if reason != "" {
				rec.Notes = &reason
			}
			return s.update(ctx, tx, rec)
		}, actor.ID, nil)
	})
}

func (s *service) Checkout(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error {
	var amounts map[string]decimal.Decimal
	err := s.retry(func() error {
		return s.step(ctx, rentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalApproved {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if rec.PublisherID != actor.ID {
				return errs.New(errs.ErrUnauthorized, "not the copy's publisher")
			}

			c, err := s.copies.Get(ctx, rec.CopyID)
			if err != nil {
				return err
			}
			cost, err := fees.RentalCost(c.DailyRate, *rec.ActualStart, *rec.ActualEnd)
			if err != nil {
				return err
			}
			schedule, err := s.sched.Load(ctx)
			if err != nil {
				return err
			}
			split := fees.RevenueSplit(cost, schedule.CommissionPct)

			// Debit and credit under one tx: either both move or neither.
			// Zero legs are skipped: a free copy owes nothing, and a
			// 100% commission leaves the publisher no share.
			if cost.IsPositive() {
				borrower, err := s.wallet.AccountByUser(ctx, rec.BorrowerID)
				if err != nil {
					return err
				}
				if _, err := s.wallet.DebitTx(ctx, tx, borrower.ID, cost, model.EntryDebit, &rec.ID); err != nil {
					return err
				}
			}
			if split.Publisher.IsPositive() {
				publisher, err := s.wallet.AccountByUser(ctx, rec.PublisherID)
				if err != nil {
					return err
				}
				if _, err := s.wallet.CreditTx(ctx, tx, publisher.ID, split.Publisher, model.EntryCredit, &rec.ID); err != nil {
					return err
				}
			}
			if err := s.copies.MarkActive(ctx, tx, rec.CopyID, rec.BorrowerID); err != nil {
				return err
			}

			rec.Status = model.RentalActive
			rec.Fees.BaseCost = cost
			rec.Fees.BasePaid = true
			amounts = map[string]decimal.Decimal{
				"base_cost":       cost,
				"publisher_share": split.Publisher,
				"platform_share":  split.Platform,
			}
			return s.update(ctx, tx, rec)
		}, actor.ID, func() map[string]decimal.Decimal { return amounts })
	})
	return err
}

func (s *service) Return(ctx context.Context, actor model.Actor, rentalID uuid.UUID) error {
	var amounts map[string]decimal.Decimal
	return s.retry(func() error {
		return s.step(ctx, rentalID, func(tx *sql.Tx, rec *model.RentalRecord) error {
			if rec.Status != model.RentalActive && rec.Status != model.RentalOverdue {
				return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
			}
			if actor.ID != rec.BorrowerID && actor.ID != rec.PublisherID {
				return errs.New(errs.ErrUnauthorized, "only the borrower or publisher may return")
			}

			schedule, err := s.sched.Load(ctx)
			if err != nil {
				return err
			}
			late := fees.LateFee(*rec.ActualEnd, s.now(), schedule.OverdueFinePerDay, schedule.GraceDays)

			if late.IsPositive() {
				borrower, err := s.wallet.AccountByUser(ctx, rec.BorrowerID)
				if err != nil {
					return err
				}
				publisher, err := s.wallet.AccountByUser(ctx, rec.PublisherID)
				if err != nil {
					return err
				}
				// Late fees skip the commission split entirely.
				if _, err := s.wallet.DebitTx(ctx, tx, borrower.ID, late, model.EntryFine, &rec.ID); err != nil {
					return err
				}
				if _, err := s.wallet.CreditTx(ctx, tx, publisher.ID, late, model.EntryCredit, &rec.ID); err != nil {
					return err
				}
				rec.Fees.LateFeePaid = true
			}
			if err := s.copies.MarkReturned(ctx, tx, rec.CopyID); err != nil {
				return err
			}

			rec.Fees.LateFee = late
			rec.Status = model.RentalReturned
			amounts = map[string]decimal.Decimal{"late_fee": late}
			return s.update(ctx, tx, rec)
		}, actor.ID, func() map[string]decimal.Decimal { return amounts })
	})
}

func (s *service) Get(ctx context.Context, rentalID uuid.UUID) (*model.RentalRecord, error) {
	rec, err := s.r.Get(ctx, rentalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrNotFound, "rental not found")
	}
	return rec, err
}

func (s *service) History(ctx context.Context, actor model.Actor) ([]model.RentalRecord, error) {
	return s.r.ListByBorrower(ctx, actor.ID)
}

// step runs one transition: lock the record, apply fn, commit, emit.
func (s *service) step(ctx context.Context, rentalID uuid.UUID, fn func(*sql.Tx, *model.RentalRecord) error, actorID uuid.UUID, amounts func() map[string]decimal.Decimal) error {
	var rec *model.RentalRecord
	var from model.RentalStatus
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.r.GetForUpdate(ctx, tx, rentalID)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New(errs.ErrNotFound, "rental not found")
		}
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return errs.New(errs.ErrStateConflict, "rental is "+string(rec.Status))
		}
		from = rec.Status
		return fn(tx, rec)
	})
	if err != nil {
		return err
	}
	var amt map[string]decimal.Decimal
	if amounts != nil {
		amt = amounts()
	}
	s.emit(rec, from, actorID, amt)
	return nil
}

func (s *service) update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
	rec.UpdatedAt = s.now()
	return s.r.Update(ctx, tx, rec)
}

func (s *service) retry(fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); !errs.Retryable(err) {
			return err
		}
	}
	return err
}

func (s *service) emit(rec *model.RentalRecord, from model.RentalStatus, actorID uuid.UUID, amounts map[string]decimal.Decimal) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(notifysvc.Event{
		RentalID:  rec.ID,
		FromState: from,
		ToState:   rec.Status,
		ActorID:   actorID,
		Amounts:   amounts,
		At:        s.now(),
	})
}
