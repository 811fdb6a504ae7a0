// Package ledger declares the repository contract for ledger entries.
package ledger

import (
	"context"

	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
)

type Repository interface {
	// Insert writes e. A second completed rental or topup entry for the same
	// external reference yields common.ErrDuplicateReference.
	Insert(ctx context.Context, e *models.LedgerEntry) error

	// HasCompleted reports whether a completed entry of kind exists for ref.
	HasCompleted(ctx context.Context, kind models.EntryKind, ref string) (bool, error)

	// ListByOwner returns the newest entries first.
	ListByOwner(ctx context.Context, ownerTelegramID int64, limit int) ([]models.LedgerEntry, error)

	List(ctx context.Context) ([]models.LedgerEntry, error)
}
