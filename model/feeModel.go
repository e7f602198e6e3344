// model/fee.go
package model

import "github.com/shopspring/decimal"

// FeeSchedule is the externally administered fee configuration. The core
// reads it fresh for every fee computation and never writes it.
type FeeSchedule struct {
	OverdueFinePerDay decimal.Decimal `json:"overdue_fine_per_day"`
	GraceDays         int             `json:"grace_days"`
	DamagePct         decimal.Decimal `json:"damage_pct"`
	LostMultiplier    decimal.Decimal `json:"lost_multiplier"`
	CommissionPct     decimal.Decimal `json:"commission_pct"`
}

// Keys of the fee configuration store, as category.key.
const (
	FeeKeyOverdueFinePerDay = "fines.overdue_fine_per_day"
	FeeKeyGraceDays         = "fines.grace_days"
	FeeKeyDamagePct         = "fees.damage_pct"
	FeeKeyLostMultiplier    = "fees.lost_multiplier"
	FeeKeyCommissionPct     = "fees.commission_pct"
)
