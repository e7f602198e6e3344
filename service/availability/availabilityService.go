// Package availsvc owns a book copy's claim state. Every transition is an
// atomic check-and-set: the row is locked, the precondition checked, and
// the write guarded by the copy's version counter.
package availsvc

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

type Repo interface {
	Insert(ctx context.Context, c *model.BookCopy) error
	Get(ctx context.Context, id uuid.UUID) (*model.BookCopy, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.BookCopy, error)
	SetState(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.CopyStatus, claimant *uuid.UUID, version int64) error
}

type Service interface {
	Register(ctx context.Context, publisherID uuid.UUID, title string, dailyRate, bookValue decimal.Decimal, maxRentalDays int) (*model.BookCopy, error)
	Get(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error)

	// Claim transitions join the caller's transaction so availability
	// changes commit together with the rental transition that caused them.
	PlaceHold(ctx context.Context, tx *sql.Tx, copyID, userID uuid.UUID) error
	ReleaseHold(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error
	MarkActive(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error
	MarkReturned(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error

	// SetMaintenance pulls an idle copy out of circulation.
	SetMaintenance(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error
}

type service struct{ r Repo }

func New(r Repo) Service { return &service{r: r} }

func (s *service) Register(ctx context.Context, publisherID uuid.UUID, title string, dailyRate, bookValue decimal.Decimal, maxRentalDays int) (*model.BookCopy, error) {
	if title == "" || maxRentalDays <= 0 {
		return nil, errs.New(errs.ErrValidation, "title and max rental days required")
	}
	if dailyRate.IsNegative() || bookValue.IsNegative() {
		return nil, errs.New(errs.ErrValidation, "rates must not be negative")
	}
	c := &model.BookCopy{
		ID:            uuid.New(),
		PublisherID:   publisherID,
		Title:         title,
		DailyRate:     dailyRate,
		BookValue:     bookValue,
		MaxRentalDays: maxRentalDays,
		Status:        model.CopyAvailable,
	}
	if err := s.r.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) Get(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) {
	c, err := s.r.Get(ctx, copyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrNotFound, "copy not found")
	}
	return c, err
}

func (s *service) PlaceHold(ctx context.Context, tx *sql.Tx, copyID, userID uuid.UUID) error {
	return s.transition(ctx, tx, copyID, model.CopyHeld, &userID, func(c *model.BookCopy) error {
		if c.Status != model.CopyAvailable {
			return errs.New(errs.ErrStateConflict, "copy is "+string(c.Status))
		}
		return nil
	})
}

func (s *service) ReleaseHold(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	return s.transition(ctx, tx, copyID, model.CopyAvailable, nil, func(c *model.BookCopy) error {
		if c.Status != model.CopyHeld {
			return errs.New(errs.ErrStateConflict, "copy is not held")
		}
		return nil
	})
}

func (s *service) MarkActive(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error {
	return s.transition(ctx, tx, copyID, model.CopyActive, &borrowerID, func(c *model.BookCopy) error {
		if c.Status != model.CopyHeld {
			return errs.New(errs.ErrStateConflict, "copy is not held")
		}
		if c.CurrentClaimant == nil || *c.CurrentClaimant != borrowerID {
			return errs.New(errs.ErrStateConflict, "copy held by someone else")
		}
		return nil
	})
}

func (s *service) MarkReturned(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	return s.transition(ctx, tx, copyID, model.CopyAvailable, nil, func(c *model.BookCopy) error {
		if c.Status != model.CopyActive {
			return errs.New(errs.ErrStateConflict, "copy is not on loan")
		}
		return nil
	})
}

func (s *service) SetMaintenance(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	// A copy under maintenance carries its publisher as claimant so the
	// claimant-iff-unavailable invariant holds.
	c, err := s.lock(ctx, tx, copyID)
	if err != nil {
		return err
	}
	if c.Status != model.CopyAvailable {
		return errs.New(errs.ErrStateConflict, "copy is "+string(c.Status))
	}
	pub := c.PublisherID
	return s.r.SetState(ctx, tx, copyID, model.CopyMaintenance, &pub, c.Version)
}

func (s *service) transition(ctx context.Context, tx *sql.Tx, copyID uuid.UUID, to model.CopyStatus, claimant *uuid.UUID, check func(*model.BookCopy) error) error {
	c, err := s.lock(ctx, tx, copyID)
	if err != nil {
		return err
	}
	if err := check(c); err != nil {
		return err
	}
	return s.r.SetState(ctx, tx, copyID, to, claimant, c.Version)
}

func (s *service) lock(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (*model.BookCopy, error) {
	c, err := s.r.GetForUpdate(ctx, tx, copyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrNotFound, "copy not found")
	}
	return c, err
}
