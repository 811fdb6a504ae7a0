package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/config"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

const defaultHistoryLimit = 20

// PaymentConfirmation is a provider-confirmed top-up.
type PaymentConfirmation struct {
	PaymentID       string
	OwnerTelegramID int64
	Amount          decimal.Decimal
	Currency        string
}

// LedgerService owns every balance mutation. Each operation writes its
// ledger entry and the balance change it accompanies in one transaction.
type LedgerService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	logger      logging.Logger
	metrics     *metrics.Metrics

	plans    map[string]models.Plan
	currency string
	minTopUp decimal.Decimal

	now func() time.Time
}

func NewLedgerService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, n Notifier,
	logger logging.Logger, mt *metrics.Metrics) *LedgerService {
	plans := make(map[string]models.Plan, len(cfg.Plans))
	for _, p := range cfg.Plans {
		plans[p.ID] = p
	}
	return &LedgerService{
		db:          db,
		repomanager: m,
		notifier:    n,
		logger:      logger,
		metrics:     mt,
		plans:       plans,
		currency:    cfg.PaymentCurrency,
		minTopUp:    cfg.MinTopUp,
		now:         time.Now,
	}
}

// RecordRental writes a completed rental entry for orderRef. The marketplace
// settles the buyer's payment, so the owner balance is left untouched.
// A second call for the same order returns common.ErrDuplicateReference.
func (s *LedgerService) RecordRental(ctx context.Context, ownerTelegramID, resourceID int64, orderRef string, amount decimal.Decimal) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Ledger(tx).Insert(ctx, &models.LedgerEntry{
			OwnerTelegramID: ownerTelegramID,
			ResourceID:      &resourceID,
			Kind:            models.KindRental,
			ExternalRef:     &orderRef,
			Amount:          amount,
			Status:          models.EntryCompleted,
		})
	})
}

func (s *LedgerService) validatePayment(p PaymentConfirmation) error {
	if strings.TrimSpace(p.PaymentID) == "" || p.OwnerTelegramID == 0 {
		return fmt.Errorf("%w: payment id and owner are required", common.ErrValidation)
	}
	if !strings.EqualFold(p.Currency, s.currency) {
		return fmt.Errorf("%w: %q", common.ErrBadCurrency, p.Currency)
	}
	if !models.FitsMoneyColumn(p.Amount) {
		return fmt.Errorf("%w: amount %s exceeds %s or has more than %d decimal places",
			common.ErrValidation, p.Amount.String(), models.MaxMoney.StringFixed(2), models.MoneyScale)
	}
	if !p.Amount.IsPositive() || p.Amount.LessThan(s.minTopUp) {
		return fmt.Errorf("%w: %s < %s", common.ErrAmountTooLow, p.Amount.StringFixed(2), s.minTopUp.StringFixed(2))
	}
	return nil
}

// TopUp credits a confirmed payment to the owner's balance. Redelivery of
// the same payment returns common.ErrDuplicateReference and changes nothing.
func (s *LedgerService) TopUp(ctx context.Context, p PaymentConfirmation) (decimal.Decimal, error) {
	if err := s.validatePayment(p); err != nil {
		s.metrics.Payment("rejected")
		return decimal.Zero, err
	}

	done, err := s.repomanager.Ledger(s.db).HasCompleted(ctx, models.KindTopUp, p.PaymentID)
	if err != nil {
		return decimal.Zero, err
	}
	if done {
		s.metrics.Payment("duplicate")
		return decimal.Zero, common.ErrDuplicateReference
	}

	var balance decimal.Decimal
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		owners := s.repomanager.Owners(tx)
		if _, err := owners.GetForUpdate(ctx, p.OwnerTelegramID); err != nil {
			return err
		}
		if err := s.repomanager.Ledger(tx).Insert(ctx, &models.LedgerEntry{
			OwnerTelegramID: p.OwnerTelegramID,
			Kind:            models.KindTopUp,
			ExternalRef:     &p.PaymentID,
			Amount:          p.Amount,
			Status:          models.EntryCompleted,
		}); err != nil {
			return err
		}
		if err := owners.AdjustBalance(ctx, p.OwnerTelegramID, p.Amount); err != nil {
			return err
		}
		o, err := owners.Get(ctx, p.OwnerTelegramID)
		if err != nil {
			return err
		}
		balance = o.Balance
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateReference) {
			s.metrics.Payment("duplicate")
		} else {
			s.metrics.Payment("failed")
		}
		return decimal.Zero, err
	}

	s.metrics.Payment("credited")
	s.logger.Info(ctx, "balance topped up", "owner", p.OwnerTelegramID, "payment_id", p.PaymentID, "amount", p.Amount.String())
	s.notifier.NotifyOwner(ctx, p.OwnerTelegramID,
		fmt.Sprintf("Balance topped up by %s %s. Current balance: %s.", p.Amount.StringFixed(2), s.currency, balance.StringFixed(2)))
	return balance, nil
}

// Plan looks up a subscription plan by id.
func (s *LedgerService) Plan(id string) (models.Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return models.Plan{}, fmt.Errorf("%w: %q", common.ErrUnknownPlan, id)
	}
	return p, nil
}

// extend returns the new subscription end: days are added to the later of
// now and the current end.
func extend(o *models.Owner, now time.Time, days int) time.Time {
	start := now
	if o.SubscriptionEnd != nil && o.SubscriptionEnd.After(now) {
		start = *o.SubscriptionEnd
	}
	return start.AddDate(0, 0, days)
}

// PurchaseSubscription debits the plan price and extends the subscription.
// With too little balance it fails with common.ErrInsufficientBalance and
// nothing changes.
func (s *LedgerService) PurchaseSubscription(ctx context.Context, ownerTelegramID int64, planID string) (time.Time, error) {
	plan, err := s.Plan(planID)
	if err != nil {
		return time.Time{}, err
	}

	var end time.Time
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		owners := s.repomanager.Owners(tx)
		o, err := owners.GetForUpdate(ctx, ownerTelegramID)
		if err != nil {
			return err
		}
		if o.Balance.LessThan(plan.Price) {
			return fmt.Errorf("%w: balance %s, price %s", common.ErrInsufficientBalance,
				o.Balance.StringFixed(2), plan.Price.StringFixed(2))
		}
		if err := owners.AdjustBalance(ctx, ownerTelegramID, plan.Price.Neg()); err != nil {
			return err
		}
		end = extend(o, s.now().UTC(), plan.Days)
		if err := owners.SetSubscriptionEnd(ctx, ownerTelegramID, end); err != nil {
			return err
		}
		return s.repomanager.Ledger(tx).Insert(ctx, &models.LedgerEntry{
			OwnerTelegramID: ownerTelegramID,
			Kind:            models.KindSubscription,
			ExternalRef:     &plan.ID,
			Amount:          plan.Price.Neg(),
			Status:          models.EntryCompleted,
		})
	})
	if err != nil {
		return time.Time{}, err
	}

	s.logger.Info(ctx, "subscription purchased", "owner", ownerTelegramID, "plan", plan.ID, "until", end)
	s.notifier.NotifyOwner(ctx, ownerTelegramID, fmt.Sprintf("Subscription %s active until %s.", plan.ID, formatTime(end)))
	return end, nil
}

// GrantSubscription extends an owner's subscription free of charge.
func (s *LedgerService) GrantSubscription(ctx context.Context, ownerTelegramID int64, days int) (time.Time, error) {
	if days < 1 {
		return time.Time{}, fmt.Errorf("%w: days must be positive", common.ErrValidation)
	}
	if ownerTelegramID <= 0 {
		return time.Time{}, fmt.Errorf("%w: telegram id must be positive", common.ErrValidation)
	}

	var end time.Time
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		owners := s.repomanager.Owners(tx)
		// the admin may grant before the owner has ever talked to the bot
		if _, err := owners.Ensure(ctx, ownerTelegramID); err != nil {
			return err
		}
		o, err := owners.GetForUpdate(ctx, ownerTelegramID)
		if err != nil {
			return err
		}
		end = extend(o, s.now().UTC(), days)
		if err := owners.SetSubscriptionEnd(ctx, ownerTelegramID, end); err != nil {
			return err
		}
		return s.repomanager.Ledger(tx).Insert(ctx, &models.LedgerEntry{
			OwnerTelegramID: ownerTelegramID,
			Kind:            models.KindSubscription,
			Amount:          decimal.Zero,
			Status:          models.EntryCompleted,
		})
	})
	if err != nil {
		return time.Time{}, err
	}

	s.logger.Info(ctx, "subscription granted", "owner", ownerTelegramID, "days", days, "until", end)
	s.notifier.NotifyOwner(ctx, ownerTelegramID, fmt.Sprintf("An administrator activated your subscription until %s.", formatTime(end)))
	return end, nil
}

// History returns the owner's most recent ledger entries.
func (s *LedgerService) History(ctx context.Context, ownerTelegramID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repomanager.Ledger(s.db).ListByOwner(ctx, ownerTelegramID, limit)
}

// EnsureOwner registers an owner on first contact and returns the account.
func (s *LedgerService) EnsureOwner(ctx context.Context, ownerTelegramID int64) (*models.Owner, error) {
	if ownerTelegramID <= 0 {
		return nil, fmt.Errorf("%w: telegram id must be positive", common.ErrValidation)
	}
	return s.repomanager.Owners(s.db).Ensure(ctx, ownerTelegramID)
}
