package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/resources"
)

// RepositoryManager vends repositories bound to a *sql.DB or a *sql.Tx, so
// services can compose several of them inside one dbx.WithTx call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Owners(db dbx.DBTX) owners.Repository
	Resources(db dbx.DBTX) resources.Repository
	Ledger(db dbx.DBTX) ledger.Repository
}
