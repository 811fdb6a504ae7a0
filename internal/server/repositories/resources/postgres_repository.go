package resources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
)

const resourceColumns = `id, owner_telegram_id, marketplace_account_id, login, base_secret_enc, shared_seed_enc,
	current_secret, price_per_hour, status, renter, lease_end, order_ref,
	max_lease_hours, allowed_regions, game_limits, version`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(s scanner) (*models.Resource, error) {
	r := &models.Resource{}
	err := s.Scan(&r.ID, &r.OwnerTelegramID, &r.MarketplaceAccountID, &r.Login, &r.BaseSecretEnc, &r.SharedSeedEnc,
		&r.CurrentSecret, &r.PricePerHour, &r.Status, &r.Renter, &r.LeaseEnd, &r.OrderRef,
		&r.MaxLeaseHours, &r.AllowedRegions, &r.GameLimits, &r.Version)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresRepository) Create(ctx context.Context, r *models.Resource) (int64, error) {
	query := `
		INSERT INTO resources (owner_telegram_id, marketplace_account_id, login, base_secret_enc, shared_seed_enc,
			price_per_hour, max_lease_hours, allowed_regions, game_limits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := p.db.QueryRowContext(ctx, query, r.OwnerTelegramID, r.MarketplaceAccountID, r.Login,
		r.BaseSecretEnc, r.SharedSeedEnc, r.PricePerHour, r.MaxLeaseHours, r.AllowedRegions, r.GameLimits).Scan(&id)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return 0, fmt.Errorf("login %q: %w", r.Login, common.ErrConflict)
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (p *PostgresRepository) Get(ctx context.Context, id int64) (*models.Resource, error) {
	r, err := scanResource(p.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

// conflictOrMissing classifies a conditional update that matched no row.
func (p *PostgresRepository) conflictOrMissing(ctx context.Context, id int64) error {
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return common.ErrConflict
}

func (p *PostgresRepository) TryAcquire(ctx context.Context, id int64, lease models.Lease) (*models.Resource, error) {
	query := `
		UPDATE resources
		SET status = 'rented', renter = $2, lease_end = $3, order_ref = $4, current_secret = $5,
			version = version + 1
		WHERE id = $1 AND status = 'available'
		RETURNING ` + resourceColumns

	r, err := scanResource(p.db.QueryRowContext(ctx, query, id, lease.Renter, lease.LeaseEnd, lease.OrderRef, lease.CurrentSecret))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, p.conflictOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

func (p *PostgresRepository) transition(ctx context.Context, id int64, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return p.conflictOrMissing(ctx, id)
	}
	return nil
}

func (p *PostgresRepository) Rollback(ctx context.Context, id int64, orderRef string) error {
	return p.transition(ctx, id, `
		UPDATE resources
		SET status = 'available', renter = NULL, lease_end = NULL, order_ref = NULL, current_secret = NULL,
			version = version + 1
		WHERE id = $1 AND status = 'rented' AND order_ref = $2`, orderRef)
}

func (p *PostgresRepository) Release(ctx context.Context, id int64, version int64, baseSecretEnc []byte) error {
	return p.transition(ctx, id, `
		UPDATE resources
		SET status = 'available', renter = NULL, lease_end = NULL, order_ref = NULL, current_secret = NULL,
			base_secret_enc = $3, version = version + 1
		WHERE id = $1 AND status = 'rented' AND version = $2`, version, baseSecretEnc)
}

func (p *PostgresRepository) Block(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
		UPDATE resources SET status = 'blocked', version = version + 1
		WHERE id = $1 AND status = 'available'`)
}

func (p *PostgresRepository) Unblock(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
		UPDATE resources SET status = 'available', version = version + 1
		WHERE id = $1 AND status = 'blocked'`)
}

func (p *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.Resource, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (p *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Resource, error) {
	return p.list(ctx, `SELECT `+resourceColumns+` FROM resources
		WHERE status = 'rented' AND lease_end < $1
		ORDER BY lease_end`, now)
}

func (p *PostgresRepository) List(ctx context.Context) ([]models.Resource, error) {
	return p.list(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
}

func (p *PostgresRepository) StatsByOwner(ctx context.Context, ownerTelegramID int64) (models.ResourceStats, error) {
	query := `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'rented'),
			count(*) FILTER (WHERE status = 'available'),
			count(*) FILTER (WHERE status = 'blocked')
		FROM resources
		WHERE owner_telegram_id = $1`

	var s models.ResourceStats
	if err := p.db.QueryRowContext(ctx, query, ownerTelegramID).Scan(&s.Total, &s.Rented, &s.Available, &s.Blocked); err != nil {
		return s, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}
