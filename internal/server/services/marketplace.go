package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/notify"
)

const missingSellerText = "Marketplace credentials are not set, so buyers are messaged from the shared account. " +
	"Set them with 'leasectl owner marketplace'."

// SetMarketplaceCredentials stores the owner's marketplace user id and key,
// encrypted, creating the owner on first contact. Buyer messages about the
// owner's resources are sent from this account afterwards.
func (s *LeaseService) SetMarketplaceCredentials(ctx context.Context, ownerTelegramID int64, userID string, key logging.Secret) error {
	userID = strings.TrimSpace(userID)
	switch {
	case ownerTelegramID <= 0:
		return fmt.Errorf("%w: telegram id must be positive", common.ErrValidation)
	case userID == "" || strings.TrimFunc(userID, func(r rune) bool { return r >= '0' && r <= '9' }) != "":
		return fmt.Errorf("%w: marketplace user id must be a number", common.ErrValidation)
	case strings.TrimSpace(key.Reveal()) == "":
		return fmt.Errorf("%w: marketplace key is required", common.ErrValidation)
	}

	userIDEnc, err := s.cipher.EncryptString(userID)
	if err != nil {
		return err
	}
	keyEnc, err := s.cipher.EncryptString(key.Reveal())
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		owners := s.repomanager.Owners(tx)
		if _, err := owners.Ensure(ctx, ownerTelegramID); err != nil {
			return err
		}
		return owners.SetMarketplaceCredentials(ctx, ownerTelegramID, userIDEnc, keyEnc)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "marketplace credentials set", "owner", ownerTelegramID)
	return nil
}

// sellerAccount decrypts the owner's marketplace account. It returns nil,
// after telling the owner, when the credentials are absent or unreadable;
// buyer messages then go out from the shared account.
func (s *LeaseService) sellerAccount(ctx context.Context, log logging.Logger, o *models.Owner) *notify.Account {
	if len(o.MarketplaceUserIDEnc) == 0 || len(o.MarketplaceKeyEnc) == 0 {
		s.notifier.NotifyOwner(ctx, o.TelegramID, missingSellerText)
		return nil
	}
	userID, err := s.cipher.DecryptString(o.MarketplaceUserIDEnc)
	if err == nil {
		var key string
		if key, err = s.cipher.DecryptString(o.MarketplaceKeyEnc); err == nil {
			return &notify.Account{UserID: userID, Key: logging.Secret(key)}
		}
	}
	log.Error(ctx, "marketplace credentials unreadable", "owner", o.TelegramID, "error", err)
	s.notifier.NotifyOwner(ctx, o.TelegramID, missingSellerText)
	return nil
}
