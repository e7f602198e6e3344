package rentalsvc

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	availsvc "github.com/MightySuz/community-library-project-sub000/service/availability"
	"github.com/MightySuz/community-library-project-sub000/service/fees"
	notifysvc "github.com/MightySuz/community-library-project-sub000/service/notify"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type SweepRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error)
	Update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	MarkOverdue(ctx context.Context, tx *sql.Tx, id uuid.UUID, lateFee decimal.Decimal, now time.Time) error
	ListDue(ctx context.Context, now time.Time) ([]model.RentalRecord, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]model.RentalRecord, error)
}

// Sweeper is the periodic batch job. Each record is processed in its own
// transaction, so an interrupted scan loses nothing and the next cycle
// picks up where it stopped. Late-fee accrual overwrites the previous
// figure, which keeps repeat runs idempotent.
type Sweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
	ReleaseExpiredHolds(ctx context.Context) (int, error)
}

type SweeperOption func(*sweeper)

func SweeperClock(now func() time.Time) SweeperOption { return func(s *sweeper) { s.now = now } }
func SweeperTxRunner(run TxRunner) SweeperOption { return func(s *sweeper) { s.runTx = run } }

type sweeper struct {
	r      SweepRepo
	copies availsvc.Service
	sched  ScheduleRepo
	pub    notifysvc.Publisher
	log    *slog.Logger
	now    func() time.Time
	runTx  TxRunner
}

func NewSweeper(db *sql.DB, r SweepRepo, copies availsvc.Service, sched ScheduleRepo, pub notifysvc.Publisher, log *slog.Logger, opts ...SweeperOption) Sweeper {
	s := &sweeper{
		r:      r,
		copies: copies,
		sched:  sched,
		pub:    pub,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		runTx:  sqlRunner(db),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOverdue moves past-due active rentals to OVERDUE and accrues their
// current late fee into the record. Wallets are untouched; money moves
// only at return time, against the freshest figure.
func (s *sweeper) SweepOverdue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.r.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	schedule, err := s.sched.Load(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rec := range due {
		late := fees.LateFee(*rec.ActualEnd, now, schedule.OverdueFinePerDay, schedule.GraceDays)
		wasOverdue := rec.Status == model.RentalOverdue
		err := s.runTx(ctx, func(tx *sql.Tx) error {
			return s.r.MarkOverdue(ctx, tx, rec.ID, late, now)
		})
		if errs.Is(err, errs.ErrStateConflict) {
			// Returned between scan and write; nothing to accrue.
			continue
		}
		if err != nil {
			s.log.Error("overdue sweep", "rental_id", rec.ID, "err", err)
			continue
		}
		swept++
		if !wasOverdue && s.pub != nil {
			s.pub.Publish(notifysvc.Event{
				RentalID:  rec.ID,
				FromState: model.RentalActive,
				ToState:   model.RentalOverdue,
				ActorID:   uuid.Nil,
				Amounts:   map[string]decimal.Decimal{"late_fee": late},
				At:        now,
			})
		}
	}
	return swept, nil
}

// ReleaseExpiredHolds cancels holds whose expiry passed and frees their
// copies.
func (s *sweeper) ReleaseExpiredHolds(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.r.ListExpiredHolds(ctx, now)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, stale := range expired {
		err := s.runTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.r.GetForUpdate(ctx, tx, stale.ID)
			if err != nil {
				return err
			}
			if rec.Status != model.RentalHold || rec.HoldExpiry == nil || rec.HoldExpiry.After(now) {
				return errs.New(errs.ErrStateConflict, "hold no longer expired")
			}
			if err := s.copies.ReleaseHold(ctx, tx, rec.CopyID); err != nil {
				return err
			}
			rec.Status = model.RentalCancelled
			rec.UpdatedAt = now
			return s.r.Update(ctx, tx, rec)
		})
		if errs.Is(err, errs.ErrStateConflict) {
			continue
		}
		if err != nil {
			s.log.Error("hold release sweep", "rental_id", stale.ID, "err", err)
			continue
		}
		released++
		if s.pub != nil {
			s.pub.Publish(notifysvc.Event{
				RentalID:  stale.ID,
				FromState: model.RentalHold,
				ToState:   model.RentalCancelled,
				ActorID:   uuid.Nil,
				At:        now,
			})
		}
	}
	return released, nil
}
