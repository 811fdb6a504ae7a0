// Package services contains the lease engine's business logic: acquisition
// and release of leases, the expiry reclaimer, the owner ledger and snapshot
// export. Services compose repositories through repomanager so that several
// of them can share one dbx.WithTx transaction.
package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/notify"
	"github.com/dmitrijs2005/leasekeeper/internal/server/sweepstate"
)

// Notifier delivers human-readable messages. Owner, renter and operator
// notifications are fire-and-forget; DeliverToRenter reports the outcome.
// Renter messages are written as the given owner account, or from the shared
// marketplace account when it is nil.
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerTelegramID int64, text string)
	NotifyRenter(ctx context.Context, as *notify.Account, buyer string, text string)
	NotifyOperators(ctx context.Context, text string)
	DeliverToRenter(ctx context.Context, as *notify.Account, buyer string, text string) error
}

// ReclaimTracker keeps reclaim retry state across sweeps.
type ReclaimTracker interface {
	Due(ctx context.Context, id int64) (bool, error)
	RecordFailure(ctx context.Context, id int64) (sweepstate.Failure, error)
	Reset(ctx context.Context, id int64) error
	DeadLettered(ctx context.Context) ([]int64, error)
	Lock(ctx context.Context, id int64) (func(context.Context) error, error)
}

var generateSecret = func() (string, error) {
	return common.GenerateSecret(common.SecretLength)
}

const timeLayout = "02.01.2006 15:04"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout) + " UTC"
}
