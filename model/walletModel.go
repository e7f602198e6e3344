// model/wallet.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletAccount holds one user's funds. Balance never goes below zero;
// MaxBalance and DailySpendLimit are unenforced when zero.
type WalletAccount struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Currency        string          `json:"currency"`
	Balance         decimal.Decimal `json:"balance"`
	MaxBalance      decimal.Decimal `json:"max_balance"`
	DailySpendLimit decimal.Decimal `json:"daily_spend_limit"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
	EntryRefund EntryType = "REFUND"
	EntryFine   EntryType = "FINE"
)

// LedgerEntry is appended on every balance mutation and never edited;
// corrections are offsetting entries of type REFUND.
type LedgerEntry struct {
	ID           string          `json:"id"` // ulid, sorts by creation time
	AccountID    uuid.UUID       `json:"account_id"`
	EntryType    EntryType       `json:"entry_type"`
	Amount       decimal.Decimal `json:"amount"`
	RentalID     *uuid.UUID      `json:"rental_id,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

type TopupStatus string

const (
	TopupPending TopupStatus = "PENDING"
	TopupPaid    TopupStatus = "PAID"
	TopupExpired TopupStatus = "EXPIRED"
	TopupFailed  TopupStatus = "FAILED"
)

type WalletTopup struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TopupStatus     `json:"status"`
	InvoiceID   *string         `json:"invoice_id,omitempty"`
	PaymentLink *string         `json:"payment_link,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
