package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Owner is the party that supplies resources and holds a balance.
// Owners are created on first contact and never deleted.
type Owner struct {
	ID              int64
	TelegramID      int64
	Balance         decimal.Decimal
	SubscriptionEnd *time.Time
	IsActive        bool

	// Encrypted marketplace credentials, optional.
	MarketplaceUserIDEnc []byte `json:"-"`
	MarketplaceKeyEnc    []byte `json:"-"`
}

// IsSubscribed reports whether the owner's subscription is still running at now.
func (o *Owner) IsSubscribed(now time.Time) bool {
	return o.SubscriptionEnd != nil && o.SubscriptionEnd.After(now)
}

// MarketplaceAccount groups resources under one provider account.
type MarketplaceAccount struct {
	ID        int64
	OwnerID   int64
	Name      string
	UserIDEnc []byte `json:"-"`
	KeyEnc    []byte `json:"-"`
	IsActive  bool
}
