// Package resources declares the repository contract for leasable resources.
// Every status transition is a single conditional UPDATE; callers never
// read-then-write a status.
package resources

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, r *models.Resource) (int64, error)

	// Get returns common.ErrorNotFound when the resource does not exist.
	Get(ctx context.Context, id int64) (*models.Resource, error)

	// TryAcquire moves an available resource to rented and stamps the lease in
	// one statement. Returns common.ErrorNotFound or common.ErrConflict when
	// the resource is missing or not available.
	TryAcquire(ctx context.Context, id int64, lease models.Lease) (*models.Resource, error)

	// Rollback undoes TryAcquire for the given order. common.ErrConflict if the
	// resource is no longer held by that order.
	Rollback(ctx context.Context, id int64, orderRef string) error

	// Release ends a lease observed at version and stores the rotated secret as
	// the new base secret. common.ErrConflict if the row moved on.
	Release(ctx context.Context, id int64, version int64, baseSecretEnc []byte) error

	Block(ctx context.Context, id int64) error
	Unblock(ctx context.Context, id int64) error

	// ListExpired returns rented resources whose lease ended before now.
	ListExpired(ctx context.Context, now time.Time) ([]models.Resource, error)

	List(ctx context.Context) ([]models.Resource, error)
	StatsByOwner(ctx context.Context, ownerTelegramID int64) (models.ResourceStats, error)
}
