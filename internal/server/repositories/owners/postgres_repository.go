package owners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

const ownerColumns = `id, telegram_id, balance, subscription_end, is_active, marketplace_user_id_enc, marketplace_key_enc`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOwner(s scanner) (*models.Owner, error) {
	o := &models.Owner{}
	if err := s.Scan(&o.ID, &o.TelegramID, &o.Balance, &o.SubscriptionEnd, &o.IsActive,
		&o.MarketplaceUserIDEnc, &o.MarketplaceKeyEnc); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) Ensure(ctx context.Context, telegramID int64) (*models.Owner, error) {
	query := `
		INSERT INTO owners (telegram_id)
		VALUES ($1)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		RETURNING ` + ownerColumns

	o, err := scanOwner(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) get(ctx context.Context, query string, telegramID int64) (*models.Owner, error) {
	o, err := scanOwner(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) Get(ctx context.Context, telegramID int64) (*models.Owner, error) {
	return r.get(ctx, `SELECT `+ownerColumns+` FROM owners WHERE telegram_id = $1`, telegramID)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, telegramID int64) (*models.Owner, error) {
	return r.get(ctx, `SELECT `+ownerColumns+` FROM owners WHERE telegram_id = $1 FOR UPDATE`, telegramID)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// AdjustBalance adds delta (which may be negative) to the owner's balance.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, telegramID int64, delta decimal.Decimal) error {
	return r.exec(ctx, `UPDATE owners SET balance = balance + $2 WHERE telegram_id = $1`, telegramID, delta)
}

func (r *PostgresRepository) SetSubscriptionEnd(ctx context.Context, telegramID int64, end time.Time) error {
	return r.exec(ctx, `UPDATE owners SET subscription_end = $2 WHERE telegram_id = $1`, telegramID, end)
}

func (r *PostgresRepository) SetMarketplaceCredentials(ctx context.Context, telegramID int64, userIDEnc, keyEnc []byte) error {
	return r.exec(ctx, `UPDATE owners SET marketplace_user_id_enc = $2, marketplace_key_enc = $3 WHERE telegram_id = $1`,
		telegramID, userIDEnc, keyEnc)
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Owner, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
