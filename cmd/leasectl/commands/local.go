package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/dmitrijs2005/leasekeeper/internal/cryptox"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/config"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/notify"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
)

// Local is the direct-database surface used by local commands.
type Local interface {
	Migrate(ctx context.Context) error
	AddResource(ctx context.Context, in services.NewResource) (int64, error)
	EnsureOwner(ctx context.Context, telegramID int64) (*models.Owner, error)
	History(ctx context.Context, telegramID int64, limit int) ([]models.LedgerEntry, error)
	SetMarketplaceAccount(ctx context.Context, telegramID int64, userID string, key logging.Secret) error
	Close() error
}

type localEnv struct {
	db      *sql.DB
	manager repomanager.RepositoryManager
	leases  *services.LeaseService
	ledger  *services.LedgerService
}

func openLocal(ctx context.Context, o *Options) (Local, error) {
	var args []string
	if o.ConfigFile != "" {
		args = []string{"-config", o.ConfigFile}
	}
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogBackend, "warn", io.Discard)
	if err != nil {
		return nil, err
	}
	cipher, err := cryptox.NewCipher([]byte(cfg.MasterKey))
	if err != nil {
		return nil, err
	}
	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	// never connected: owner messages from local commands are dropped
	hub := notify.NewHub(1, logger, nil)
	ledger := services.NewLedgerService(db, rm, cfg, hub, logger, nil)
	leases := services.NewLeaseService(db, rm, ledger, cipher, nil, hub, logger, nil)

	return &localEnv{db: db, manager: rm, leases: leases, ledger: ledger}, nil
}

func (l *localEnv) Migrate(ctx context.Context) error {
	return l.manager.RunMigrations(ctx, l.db)
}

func (l *localEnv) AddResource(ctx context.Context, in services.NewResource) (int64, error) {
	return l.leases.AddResource(ctx, in)
}

func (l *localEnv) EnsureOwner(ctx context.Context, telegramID int64) (*models.Owner, error) {
	return l.ledger.EnsureOwner(ctx, telegramID)
}

func (l *localEnv) History(ctx context.Context, telegramID int64, limit int) ([]models.LedgerEntry, error) {
	return l.ledger.History(ctx, telegramID, limit)
}

func (l *localEnv) SetMarketplaceAccount(ctx context.Context, telegramID int64, userID string, key logging.Secret) error {
	return l.leases.SetMarketplaceCredentials(ctx, telegramID, userID, key)
}

func (l *localEnv) Close() error {
	return l.db.Close()
}
