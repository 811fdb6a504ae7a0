// Package owners declares the repository contract for resource owners.
package owners

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

// Repository persists owners keyed by their Telegram ID.
type Repository interface {
	// Ensure returns the owner, creating an active zero-balance row on first contact.
	Ensure(ctx context.Context, telegramID int64) (*models.Owner, error)

	// Get returns common.ErrorNotFound when the owner does not exist.
	Get(ctx context.Context, telegramID int64) (*models.Owner, error)

	// GetForUpdate is Get with a row lock; only meaningful inside a transaction.
	GetForUpdate(ctx context.Context, telegramID int64) (*models.Owner, error)

	AdjustBalance(ctx context.Context, telegramID int64, delta decimal.Decimal) error
	SetSubscriptionEnd(ctx context.Context, telegramID int64, end time.Time) error

	// SetMarketplaceCredentials stores the owner's encrypted marketplace user id and key.
	SetMarketplaceCredentials(ctx context.Context, telegramID int64, userIDEnc, keyEnc []byte) error
	List(ctx context.Context) ([]models.Owner, error)
}
