package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/cryptox"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/leasekeeper/internal/server/rotation"
	"github.com/shopspring/decimal"
)

// AcquireRequest is a paid marketplace order for a resource.
type AcquireRequest struct {
	ResourceID int64
	Renter     string
	Hours      int
	OrderRef   string
}

func (r AcquireRequest) validate() error {
	switch {
	case r.Hours < 1:
		return fmt.Errorf("%w: hours must be at least 1", common.ErrValidation)
	case strings.TrimSpace(r.Renter) == "":
		return fmt.Errorf("%w: renter is required", common.ErrValidation)
	case strings.TrimSpace(r.OrderRef) == "":
		return fmt.Errorf("%w: order reference is required", common.ErrValidation)
	}
	return nil
}

// NewResource is the operator input for registering a resource. Secrets
// arrive in plain text and are encrypted before they reach storage.
type NewResource struct {
	OwnerTelegramID int64
	Login           string
	Secret          logging.Secret
	SharedSeed      logging.Secret
	PricePerHour    decimal.Decimal
	MaxLeaseHours   *int
	AllowedRegions  *string
	GameLimits      *string
}

const (
	purposeAcquire = "acquire"
	purposeRelease = "release"
)

// LeaseService drives the resource state machine. Every transition is a
// single conditional update in the resources repository, so concurrent
// acquisitions and reclaims on one resource cannot both win.
type LeaseService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ledger      *LedgerService
	cipher      *cryptox.Cipher
	rotator     rotation.Rotator
	notifier    Notifier
	logger      logging.Logger
	metrics     *metrics.Metrics

	now func() time.Time
}

func NewLeaseService(db *sql.DB, m repomanager.RepositoryManager, ledger *LedgerService, cipher *cryptox.Cipher,
	rotator rotation.Rotator, n Notifier, logger logging.Logger, mt *metrics.Metrics) *LeaseService {
	return &LeaseService{
		db:          db,
		repomanager: m,
		ledger:      ledger,
		cipher:      cipher,
		rotator:     rotator,
		notifier:    n,
		logger:      logger,
		metrics:     mt,
		now:         time.Now,
	}
}

// Acquire leases a resource to a renter: it claims the resource, rotates its
// secret to a fresh one, records the rental and hands the secret to the
// renter.
//
// Returned errors: common.ErrValidation, common.ErrDuplicateReference (order
// already served, nothing done), common.ErrorNotFound, common.ErrLeaseTooLong,
// common.ErrConflict (resource not available), common.ErrRotationFailure
// (claim rolled back). Once rotation succeeds the lease stands and later
// failures are only reported.
func (s *LeaseService) Acquire(ctx context.Context, req AcquireRequest) error {
	err := s.acquire(ctx, req)
	s.metrics.Acquisition(acquireOutcome(err))
	return err
}

func acquireOutcome(err error) string {
	switch {
	case err == nil:
		return "leased"
	case errors.Is(err, common.ErrDuplicateReference):
		return "duplicate"
	case errors.Is(err, common.ErrConflict):
		return "conflict"
	case errors.Is(err, common.ErrRotationFailure):
		return "rotation_failed"
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrLeaseTooLong), errors.Is(err, common.ErrorNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func (s *LeaseService) acquire(ctx context.Context, req AcquireRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	log := s.logger.With("resource_id", req.ResourceID, "order", req.OrderRef)

	done, err := s.repomanager.Ledger(s.db).HasCompleted(ctx, models.KindRental, req.OrderRef)
	if err != nil {
		return err
	}
	if done {
		log.Info(ctx, "order already served")
		return common.ErrDuplicateReference
	}

	resources := s.repomanager.Resources(s.db)
	res, err := resources.Get(ctx, req.ResourceID)
	if err != nil {
		return fmt.Errorf("resource %d: %w", req.ResourceID, err)
	}
	owner, err := s.repomanager.Owners(s.db).Get(ctx, res.OwnerTelegramID)
	if err != nil {
		return fmt.Errorf("owner %d: %w", res.OwnerTelegramID, err)
	}
	seller := s.sellerAccount(ctx, log, owner)

	if res.MaxLeaseHours != nil && req.Hours > *res.MaxLeaseHours {
		log.Warn(ctx, "lease too long", "hours", req.Hours, "max", *res.MaxLeaseHours)
		s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
			fmt.Sprintf("Lease of %s for %s rejected: %d h requested, at most %d h allowed.", res.Login, req.Renter, req.Hours, *res.MaxLeaseHours))
		s.notifier.NotifyRenter(ctx, seller, req.Renter,
			fmt.Sprintf("Sorry, %s can be leased for at most %d hours. Your payment will be refunded.", res.Login, *res.MaxLeaseHours))
		return common.ErrLeaseTooLong
	}

	newSecret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}

	acquired, err := resources.TryAcquire(ctx, req.ResourceID, models.Lease{
		Renter:        req.Renter,
		LeaseEnd:      s.now().UTC().Add(time.Duration(req.Hours) * time.Hour),
		OrderRef:      req.OrderRef,
		CurrentSecret: newSecret,
	})
	if err != nil {
		if !errors.Is(err, common.ErrConflict) {
			return err
		}
		if cur, gerr := resources.Get(ctx, req.ResourceID); gerr == nil && cur.OrderRef != nil && *cur.OrderRef == req.OrderRef {
			log.Info(ctx, "order already holds the resource")
			return common.ErrDuplicateReference
		}
		log.Warn(ctx, "resource not available", "status", res.Status)
		s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
			fmt.Sprintf("Lease of %s rejected: the resource is not available.", res.Login))
		s.notifier.NotifyRenter(ctx, seller, req.Renter,
			fmt.Sprintf("Sorry, %s is temporarily unavailable.", res.Login))
		return err
	}

	s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
		fmt.Sprintf("Lease of %s for %s for %d h started.", acquired.Login, req.Renter, req.Hours))

	// The row was available when claimed, so the provider still has the base secret.
	oldSecret, err := s.cipher.DecryptString(acquired.BaseSecretEnc)
	if err == nil {
		err = s.rotate(ctx, acquired, oldSecret, newSecret, purposeAcquire)
	}
	if err != nil {
		log.Error(ctx, "acquisition rotation failed", "error", err)
		if rerr := resources.Rollback(context.WithoutCancel(ctx), req.ResourceID, req.OrderRef); rerr != nil {
			log.Error(ctx, "rollback failed", "error", rerr)
		}
		s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
			fmt.Sprintf("Password change for %s failed, lease cancelled: %v", acquired.Login, err))
		s.notifier.NotifyRenter(ctx, seller, req.Renter, "Sorry, something went wrong. Your payment will be refunded.")
		if !errors.Is(err, common.ErrRotationFailure) {
			err = fmt.Errorf("%w: %w", common.ErrRotationFailure, err)
		}
		return err
	}

	amount := acquired.PricePerHour.Mul(decimal.NewFromInt(int64(req.Hours)))
	if err := s.ledger.RecordRental(ctx, acquired.OwnerTelegramID, acquired.ID, req.OrderRef, amount); err != nil {
		if errors.Is(err, common.ErrDuplicateReference) {
			log.Info(ctx, "rental already recorded")
		} else {
			log.Error(ctx, "recording rental failed", "error", err)
			s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
				fmt.Sprintf("Lease of %s is active but could not be recorded in the ledger.", acquired.Login))
		}
	}

	log.Info(ctx, "resource leased", "renter", req.Renter, "hours", req.Hours, "until", acquired.LeaseEnd)
	s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
		fmt.Sprintf("%s leased to %s for %d h.", acquired.Login, req.Renter, req.Hours))

	msg := fmt.Sprintf("Lease confirmed!\nLogin: %s\nPassword: %s\nAvailable for %d hours.\nPlease sign out when the lease ends.",
		acquired.Login, newSecret, req.Hours)
	if err := s.notifier.DeliverToRenter(ctx, seller, req.Renter, msg); err != nil {
		log.Error(ctx, "credential delivery failed", "renter", req.Renter, "error", err)
		s.notifier.NotifyOwner(ctx, res.OwnerTelegramID,
			fmt.Sprintf("Could not send the credentials of %s to %s.", acquired.Login, req.Renter))
	}
	return nil
}

// rotate changes the provider secret of r from oldSecret to newSecret.
func (s *LeaseService) rotate(ctx context.Context, r *models.Resource, oldSecret, newSecret, purpose string) error {
	seed, err := s.cipher.DecryptString(r.SharedSeedEnc)
	if err != nil {
		return fmt.Errorf("shared seed: %w", err)
	}

	started := s.now()
	err = s.rotator.Rotate(ctx, rotation.Credentials{
		Login:         r.Login,
		CurrentSecret: logging.Secret(oldSecret),
		NewSecret:     logging.Secret(newSecret),
		SharedSeed:    logging.Secret(seed),
	})
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		if errors.Is(err, common.ErrTimeout) {
			outcome = "timeout"
		}
	}
	s.metrics.Rotation(purpose, outcome, s.now().Sub(started))
	return err
}

// currentSecret is the secret the provider holds for a rented resource.
func (s *LeaseService) currentSecret(r *models.Resource) (string, error) {
	if r.CurrentSecret != nil {
		return *r.CurrentSecret, nil
	}
	return s.cipher.DecryptString(r.BaseSecretEnc)
}

// releaseLease rotates a rented resource to a fresh secret and returns it to
// the pool. The new secret becomes the stored base secret in the same
// statement that clears the lease, guarded by the version r was read at.
func (s *LeaseService) releaseLease(ctx context.Context, r *models.Resource) error {
	oldSecret, err := s.currentSecret(r)
	if err != nil {
		return fmt.Errorf("current secret: %w", err)
	}
	newSecret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	enc, err := s.cipher.EncryptString(newSecret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	if err := s.rotate(ctx, r, oldSecret, newSecret, purposeRelease); err != nil {
		return err
	}

	if err := s.repomanager.Resources(s.db).Release(context.WithoutCancel(ctx), r.ID, r.Version, enc); err != nil {
		s.logger.Error(ctx, "release after rotation failed", "resource_id", r.ID, "version", r.Version, "error", err)
		s.notifier.NotifyOwner(ctx, r.OwnerTelegramID,
			fmt.Sprintf("Password of %s was changed but the lease could not be closed; manual check required.", r.Login))
		return fmt.Errorf("release resource %d: %w", r.ID, err)
	}
	return nil
}

// EndLease terminates a lease before its end time.
func (s *LeaseService) EndLease(ctx context.Context, id int64) error {
	r, err := s.repomanager.Resources(s.db).Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != models.StatusRented {
		return fmt.Errorf("resource %d is %s: %w", id, r.Status, common.ErrConflict)
	}
	if err := s.releaseLease(ctx, r); err != nil {
		return err
	}
	s.logger.Info(ctx, "lease ended early", "resource_id", id)
	s.notifier.NotifyOwner(ctx, r.OwnerTelegramID, fmt.Sprintf("Lease of %s ended by an operator.", r.Login))
	return nil
}

func (s *LeaseService) Block(ctx context.Context, id int64) error {
	if err := s.repomanager.Resources(s.db).Block(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "resource blocked", "resource_id", id)
	return nil
}

func (s *LeaseService) Unblock(ctx context.Context, id int64) error {
	if err := s.repomanager.Resources(s.db).Unblock(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "resource unblocked", "resource_id", id)
	return nil
}

// Get returns a resource together with its owner's fleet statistics.
func (s *LeaseService) Get(ctx context.Context, id int64) (*models.Resource, models.ResourceStats, error) {
	resources := s.repomanager.Resources(s.db)
	r, err := resources.Get(ctx, id)
	if err != nil {
		return nil, models.ResourceStats{}, err
	}
	stats, err := resources.StatsByOwner(ctx, r.OwnerTelegramID)
	if err != nil {
		return nil, models.ResourceStats{}, err
	}
	return r, stats, nil
}

// AddResource registers a resource, creating its owner on first contact.
func (s *LeaseService) AddResource(ctx context.Context, in NewResource) (int64, error) {
	if strings.TrimSpace(in.Login) == "" || in.Secret == "" || in.SharedSeed == "" {
		return 0, fmt.Errorf("%w: login, secret and shared seed are required", common.ErrValidation)
	}
	if in.PricePerHour.IsNegative() || !models.FitsMoneyColumn(in.PricePerHour) {
		return 0, fmt.Errorf("%w: price must be a non-negative amount with at most %d decimal places",
			common.ErrValidation, models.MoneyScale)
	}
	if in.MaxLeaseHours != nil && *in.MaxLeaseHours < 1 {
		return 0, fmt.Errorf("%w: max lease hours must be positive", common.ErrValidation)
	}
	if _, err := rotation.Code(in.SharedSeed.Reveal(), s.now()); err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}

	secretEnc, err := s.cipher.EncryptString(in.Secret.Reveal())
	if err != nil {
		return 0, err
	}
	seedEnc, err := s.cipher.EncryptString(in.SharedSeed.Reveal())
	if err != nil {
		return 0, err
	}

	if _, err := s.repomanager.Owners(s.db).Ensure(ctx, in.OwnerTelegramID); err != nil {
		return 0, err
	}
	id, err := s.repomanager.Resources(s.db).Create(ctx, &models.Resource{
		OwnerTelegramID: in.OwnerTelegramID,
		Login:           in.Login,
		BaseSecretEnc:   secretEnc,
		SharedSeedEnc:   seedEnc,
		PricePerHour:    in.PricePerHour,
		MaxLeaseHours:   in.MaxLeaseHours,
		AllowedRegions:  in.AllowedRegions,
		GameLimits:      in.GameLimits,
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "resource added", "resource_id", id, "login", in.Login, "owner", in.OwnerTelegramID)
	return id, nil
}
