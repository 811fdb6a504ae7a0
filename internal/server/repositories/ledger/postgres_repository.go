package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/google/uuid"
)

const (
	entryColumns = `id, owner_telegram_id, resource_id, kind, external_ref, created_at, amount, status`

	// CompletedRefIndex enforces one completed rental/topup per external reference.
	CompletedRefIndex = "ledger_entries_completed_ref_uidx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert assigns an ID and timestamp when they are zero.
func (r *PostgresRepository) Insert(ctx context.Context, e *models.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query, e.ID, e.OwnerTelegramID, e.ResourceID, string(e.Kind),
		e.ExternalRef, e.CreatedAt, e.Amount, string(e.Status))
	if err != nil {
		if dbx.IsUniqueViolation(err, CompletedRefIndex) {
			return common.ErrDuplicateReference
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasCompleted(ctx context.Context, kind models.EntryKind, ref string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE kind = $1 AND external_ref = $2 AND status = 'completed'
		)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, string(kind), ref).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerTelegramID, &e.ResourceID, &e.Kind, &e.ExternalRef,
			&e.CreatedAt, &e.Amount, &e.Status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerTelegramID int64, limit int) ([]models.LedgerEntry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE owner_telegram_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerTelegramID, limit)
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.LedgerEntry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY created_at`)
}
