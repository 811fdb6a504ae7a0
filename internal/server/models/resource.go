package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceStatus is the lease state of a resource.
type ResourceStatus string

const (
	StatusAvailable ResourceStatus = "available"
	StatusRented    ResourceStatus = "rented"
	StatusBlocked   ResourceStatus = "blocked"
)

// Resource is a leasable game account.
//
// CurrentSecret, Renter, LeaseEnd and OrderRef are either all set (rented) or
// all nil. They are only ever written together with the status column.
type Resource struct {
	ID                   int64
	OwnerTelegramID      int64
	MarketplaceAccountID *int64
	Login                string

	BaseSecretEnc []byte  `json:"-"`
	SharedSeedEnc []byte  `json:"-"`
	CurrentSecret *string `json:"-"`

	PricePerHour decimal.Decimal
	Status       ResourceStatus
	Renter       *string
	LeaseEnd     *time.Time
	OrderRef     *string

	MaxLeaseHours  *int
	AllowedRegions *string
	GameLimits     *string

	Version int64
}

// Lease is the set of fields stamped on a resource by a successful acquisition.
type Lease struct {
	Renter        string
	LeaseEnd      time.Time
	OrderRef      string
	CurrentSecret string
}

// ResourceStats summarises an owner's fleet.
type ResourceStats struct {
	Total     int64
	Rented    int64
	Available int64
	Blocked   int64
}
