package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const insertQ = `(?s)INSERT\s+INTO\s+ledger_entries\s*\(id,.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8\)`

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func rentalEntry() *models.LedgerEntry {
	ref := "ord-1"
	rid := int64(3)
	return &models.LedgerEntry{
		OwnerTelegramID: 100,
		ResourceID:      &rid,
		Kind:            models.KindRental,
		ExternalRef:     &ref,
		Amount:          decimal.RequireFromString("25.00"),
		Status:          models.EntryCompleted,
	}
}

func TestInsert(t *testing.T) {
	t.Run("assigns id and timestamp", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(insertQ).
			WithArgs(sqlmock.AnyArg(), int64(100), int64(3), "rental", "ord-1", sqlmock.AnyArg(), "25", "completed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		e := rentalEntry()
		require.NoError(t, repo.Insert(context.Background(), e))
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps provided id", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		id := uuid.New()
		mock.ExpectExec(insertQ).
			WithArgs(id.String(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		e := rentalEntry()
		e.ID = id
		require.NoError(t, repo.Insert(context.Background(), e))
		assert.Equal(t, id, e.ID)
	})

	t.Run("duplicate reference", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(insertQ).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: CompletedRefIndex})

		err := repo.Insert(context.Background(), rentalEntry())
		assert.ErrorIs(t, err, common.ErrDuplicateReference)
	})

	t.Run("other unique violation is not a duplicate", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(insertQ).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_pkey"})

		err := repo.Insert(context.Background(), rentalEntry())
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrDuplicateReference)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

		err := repo.Insert(context.Background(), rentalEntry())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db error: db down")
	})
}

func TestHasCompleted(t *testing.T) {
	q := `(?s)SELECT\s+EXISTS.*FROM\s+ledger_entries\s+WHERE\s+kind\s*=\s*\$1\s+AND\s+external_ref\s*=\s*\$2\s+AND\s+status\s*=\s*'completed'`

	for _, want := range []bool{true, false} {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("rental", "ord-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(want))

		got, err := repo.HasCompleted(context.Background(), models.KindRental, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestListByOwner(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM\s+ledger_entries\s+WHERE\s+owner_telegram_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$2`).
		WithArgs(int64(100), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_telegram_id", "resource_id", "kind", "external_ref", "created_at", "amount", "status"}).
			AddRow(id.String(), 100, nil, "subscription", nil, at, "-150.00", "completed"))

	got, err := repo.ListByOwner(context.Background(), 100, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, models.KindSubscription, got[0].Kind)
	assert.Nil(t, got[0].ResourceID)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(-150)))
	assert.True(t, got[0].CreatedAt.Equal(at))
}
