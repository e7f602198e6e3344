// model/copy.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CopyStatus string

const (
	CopyAvailable   CopyStatus = "AVAILABLE"
	CopyHeld        CopyStatus = "HELD"
	CopyActive      CopyStatus = "ACTIVE"
	CopyMaintenance CopyStatus = "MAINTENANCE"
)

// BookCopy is one lendable physical unit.
// CurrentClaimant is set exactly when Status != AVAILABLE.
type BookCopy struct {
	ID              uuid.UUID       `json:"id"`
	PublisherID     uuid.UUID       `json:"publisher_id"`
	Title           string          `json:"title"`
	DailyRate       decimal.Decimal `json:"daily_rate"`
	BookValue       decimal.Decimal `json:"book_value"`
	MaxRentalDays   int             `json:"max_rental_days"`
	Status          CopyStatus      `json:"status"`
	CurrentClaimant *uuid.UUID      `json:"current_claimant,omitempty"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}
