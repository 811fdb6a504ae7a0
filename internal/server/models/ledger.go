package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	KindRental       EntryKind = "rental"
	KindTopUp        EntryKind = "topup"
	KindSubscription EntryKind = "subscription"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// MoneyScale and MaxMoney describe the NUMERIC(10,2) money columns.
const MoneyScale = 2

var MaxMoney = decimal.RequireFromString("99999999.99")

// FitsMoneyColumn reports whether d is stored exactly, without rounding or
// overflow, by a money column.
func FitsMoneyColumn(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(MaxMoney) && d.Equal(d.Truncate(MoneyScale))
}

// LedgerEntry records one balance-affecting event. Amount is signed.
type LedgerEntry struct {
	ID              uuid.UUID
	OwnerTelegramID int64
	ResourceID      *int64
	Kind            EntryKind
	ExternalRef     *string
	CreatedAt       time.Time
	Amount          decimal.Decimal
	Status          EntryStatus
}

// Plan is a purchasable subscription.
type Plan struct {
	ID    string          `json:"id"`
	Days  int             `json:"days"`
	Price decimal.Decimal `json:"price"`
}

// DefaultPlans is the built-in plan catalogue.
func DefaultPlans() []Plan {
	return []Plan{
		{ID: "1w", Days: 7, Price: decimal.NewFromInt(50)},
		{ID: "1m", Days: 30, Price: decimal.NewFromInt(150)},
		{ID: "3m", Days: 90, Price: decimal.NewFromInt(400)},
	}
}
