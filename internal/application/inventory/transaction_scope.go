package inventory

import (
	"context"

	"github.com/dms/backend/internal/domain/inventory"
)

// TransactionScope provides transactional access to inventory repositories.
// When a function is executed within a transaction scope, all repository
// operations are part of the same database transaction and commit or roll
// back atomically. Stock-key locks acquired inside the scope are held until
// the transaction ends.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all inventory repositories
// within a transaction. All repositories returned share the same underlying
// database transaction.
type TransactionalRepositories interface {
	// WarehouseRepo returns the warehouse repository scoped to the current transaction
	WarehouseRepo() inventory.WarehouseRepository
	// LotRepo returns the lot repository scoped to the current transaction
	LotRepo() inventory.LotRepository
	// SerialRepo returns the serial repository scoped to the current transaction
	SerialRepo() inventory.SerialRepository
	// TransactionRepo returns the append-only ledger repository scoped to the current transaction
	TransactionRepo() inventory.TransactionRepository
}

// NoOpTransactionScope is a transaction scope that doesn't actually use
// transactions. Useful for testing or when transaction support is not required.
type NoOpTransactionScope struct {
	warehouseRepo inventory.WarehouseRepository
	lotRepo       inventory.LotRepository
	serialRepo    inventory.SerialRepository
	txnRepo       inventory.TransactionRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories
func NewNoOpTransactionScope(
	warehouseRepo inventory.WarehouseRepository,
	lotRepo inventory.LotRepository,
	serialRepo inventory.SerialRepository,
	txnRepo inventory.TransactionRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		warehouseRepo: warehouseRepo,
		lotRepo:       lotRepo,
		serialRepo:    serialRepo,
		txnRepo:       txnRepo,
	}
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)

// Execute runs the function against the wrapped repositories without a transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(noOpRepositories{scope: s})
}

type noOpRepositories struct {
	scope *NoOpTransactionScope
}

func (r noOpRepositories) WarehouseRepo() inventory.WarehouseRepository {
	return r.scope.warehouseRepo
}

func (r noOpRepositories) LotRepo() inventory.LotRepository {
	return r.scope.lotRepo
}

func (r noOpRepositories) SerialRepo() inventory.SerialRepository {
	return r.scope.serialRepo
}

func (r noOpRepositories) TransactionRepo() inventory.TransactionRepository {
	return r.scope.txnRepo
}
