package services

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
)

// LedgerRepo defines the persistence contract required by the services.
// repo.Ledger is the production implementation.
type LedgerRepo interface {
	// CreatePendingTransaction inserts a pending record.
	CreatePendingTransaction(ctx context.Context, db *gorm.DB, in repo.NewTransaction) (*domain.Transaction, error)

	// CreateFailedTransaction records an operation refused up front.
	CreateFailedTransaction(ctx context.Context, db *gorm.DB, in repo.NewTransaction, reason string) (*domain.Transaction, error)

	// GetTransaction fetches a record by primary key.
	GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.Transaction, error)

	// GetTransactionByReference fetches a record by our reference.
	GetTransactionByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Transaction, error)

	// FindTransactionByExternalRef resolves a reference quoted by the provider.
	FindTransactionByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Transaction, error)

	// UpdateTransactionStatus moves a record from one status to another.
	UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.TransactionStatus, u repo.StatusUpdate) error

	// AttachExternalID sets the provider id on a still-pending record.
	AttachExternalID(ctx context.Context, db *gorm.DB, id, externalID string, metadata datatypes.JSONMap) error

	// ListStalePending returns old pending records of a type.
	ListStalePending(ctx context.Context, db *gorm.DB, typ domain.TransactionType, olderThan time.Time, limit int) ([]domain.Transaction, error)

	// CountTransactions counts records matching a filter.
	CountTransactions(ctx context.Context, db *gorm.DB, f repo.TransactionFilter) (int64, error)

	// ListTransactionsPage returns a page of records matching a filter.
	ListTransactionsPage(ctx context.Context, db *gorm.DB, f repo.TransactionFilter, offset, limit int) ([]domain.Transaction, error)
}

var _ LedgerRepo = repo.Ledger{}
