// model/rental.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalHold      RentalStatus = "HOLD"
	RentalPending   RentalStatus = "PENDING"
	RentalApproved  RentalStatus = "APPROVED"
	RentalActive    RentalStatus = "ACTIVE"
	RentalOverdue   RentalStatus = "OVERDUE"
	RentalReturned  RentalStatus = "RETURNED"
	RentalCancelled RentalStatus = "CANCELLED"
	RentalRejected  RentalStatus = "REJECTED"
)

// Terminal reports whether s is an end state. Terminal records are kept
// for history and never deleted.
func (s RentalStatus) Terminal() bool {
	return s == RentalReturned || s == RentalCancelled || s == RentalRejected
}

// FeeLedger is the per-rental fee breakdown embedded in a RentalRecord.
// LateFee is overwritten by the overdue sweep, never appended to.
type FeeLedger struct {
	BaseCost    decimal.Decimal `json:"base_cost"`
	LateFee     decimal.Decimal `json:"late_fee"`
	DamageFee   decimal.Decimal `json:"damage_fee"`
	LostFee     decimal.Decimal `json:"lost_fee"`
	BasePaid    bool            `json:"base_paid"`
	LateFeePaid bool            `json:"late_fee_paid"`
}

type RentalRecord struct {
	ID             uuid.UUID    `json:"id"`
	CopyID         uuid.UUID    `json:"copy_id"`
	BorrowerID     uuid.UUID    `json:"borrower_id"`
	PublisherID    uuid.UUID    `json:"publisher_id"`
	Status         RentalStatus `json:"status"`
	RequestedStart time.Time    `json:"requested_start"`
	RequestedEnd   time.Time    `json:"requested_end"`
	ActualStart    *time.Time   `json:"actual_start,omitempty"`
	ActualEnd      *time.Time   `json:"actual_end,omitempty"`
	HoldExpiry     *time.Time   `json:"hold_expiry,omitempty"`
	Fees           FeeLedger    `json:"fees"`
	Notes          *string      `json:"notes,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
