package feeschedulerepo

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

// Repo reads the administratively managed fee configuration. The core
// loads it fresh before every fee computation; writes happen elsewhere.
type Repo interface {
	Load(ctx context.Context) (*model.FeeSchedule, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Load(ctx context.Context) (*model.FeeSchedule, error) {
	const q = `
SELECT category || '.' || key, value
FROM fee_schedule`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vals := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		vals[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var s model.FeeSchedule
	if s.OverdueFinePerDay, err = dec(vals, model.FeeKeyOverdueFinePerDay); err != nil {
		return nil, err
	}
	if s.GraceDays, err = days(vals, model.FeeKeyGraceDays); err != nil {
		return nil, err
	}
	if s.DamagePct, err = dec(vals, model.FeeKeyDamagePct); err != nil {
		return nil, err
	}
	if s.LostMultiplier, err = dec(vals, model.FeeKeyLostMultiplier); err != nil {
		return nil, err
	}
	if s.CommissionPct, err = dec(vals, model.FeeKeyCommissionPct); err != nil {
		return nil, err
	}
	return &s, nil
}

func dec(vals map[string]string, key string) (decimal.Decimal, error) {
	raw, ok := vals[key]
	if !ok {
		return decimal.Zero, errs.New(errs.ErrNotFound, "fee schedule key "+key)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errs.New(errs.ErrValidation, "fee schedule key "+key+": "+err.Error())
	}
	return d, nil
}

func days(vals map[string]string, key string) (int, error) {
	raw, ok := vals[key]
	if !ok {
		return 0, errs.New(errs.ErrNotFound, "fee schedule key "+key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, errs.New(errs.ErrValidation, "fee schedule key "+key+" must be a non-negative integer")
	}
	return n, nil
}
