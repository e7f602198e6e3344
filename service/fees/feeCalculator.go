// Package fees holds the pure money formulas of the rental core.
//
// All outputs are rounded to 2 decimal places, half away from zero,
// exactly once at the point of computation. Callers must not re-round.
package fees

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

var hundred = decimal.NewFromInt(100)

// Days is the ceiling of the calendar-day span between two instants.
// A partial day counts as a full day.
func Days(start, end time.Time) int64 {
	diff := end.Sub(start)
	if diff <= 0 {
		return 0
	}
	days := int64(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// RentalCost is round2(dailyRate * days) for the span start..end.
func RentalCost(dailyRate decimal.Decimal, start, end time.Time) (decimal.Decimal, error) {
	if !end.After(start) {
		return decimal.Zero, errs.New(errs.ErrValidation, "end date must be after start date")
	}
	if dailyRate.IsNegative() {
		return decimal.Zero, errs.New(errs.ErrValidation, "daily rate must not be negative")
	}
	return dailyRate.Mul(decimal.NewFromInt(Days(start, end))).Round(2), nil
}

// LateFee charges perDay for every started day past due+grace.
// The grace period itself is never charged.
func LateFee(due, at time.Time, perDay decimal.Decimal, graceDays int) decimal.Decimal {
	cutoff := due.Add(time.Duration(graceDays) * 24 * time.Hour)
	if !at.After(cutoff) {
		return decimal.Zero
	}
	return perDay.Mul(decimal.NewFromInt(Days(cutoff, at))).Round(2)
}

// Split is the outcome of dividing a gross amount between the platform
// and the publisher.
type Split struct {
	Platform  decimal.Decimal
	Publisher decimal.Decimal
}

// RevenueSplit divides gross by the platform commission percentage.
// The publisher share is rounded; the platform takes the exact remainder
// so the two shares always sum to gross. Late fees never pass through
// here: they accrue 100% to the publisher.
func RevenueSplit(gross, commissionPct decimal.Decimal) Split {
	publisher := gross.Mul(decimal.NewFromInt(1).Sub(commissionPct.Div(hundred))).Round(2)
	return Split{
		Platform:  gross.Sub(publisher),
		Publisher: publisher,
	}
}

// DamageFee charges damagePct percent of the book's replacement value.
func DamageFee(bookValue, damagePct decimal.Decimal) decimal.Decimal {
	return bookValue.Mul(damagePct.Div(hundred)).Round(2)
}

// LostFee charges the book's replacement value times the lost-item multiplier.
func LostFee(bookValue, lostMultiplier decimal.Decimal) decimal.Decimal {
	return bookValue.Mul(lostMultiplier).Round(2)
}
