package repo

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
)

// Ledger exposes the free functions of this package as a value, so services
// can depend on an interface and tests can wrap it.
type Ledger struct{}

// CreatePendingTransaction proxies CreatePendingTransaction.
func (Ledger) CreatePendingTransaction(ctx context.Context, db *gorm.DB, in NewTransaction) (*domain.Transaction, error) {
	return CreatePendingTransaction(ctx, db, in)
}

// CreateFailedTransaction proxies CreateFailedTransaction.
func (Ledger) CreateFailedTransaction(ctx context.Context, db *gorm.DB, in NewTransaction, reason string) (*domain.Transaction, error) {
	return CreateFailedTransaction(ctx, db, in, reason)
}

// GetTransaction proxies GetTransaction.
func (Ledger) GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.Transaction, error) {
	return GetTransaction(ctx, db, id)
}

// GetTransactionByReference proxies GetTransactionByReference.
func (Ledger) GetTransactionByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Transaction, error) {
	return GetTransactionByReference(ctx, db, reference)
}

// FindTransactionByExternalRef proxies FindTransactionByExternalRef.
func (Ledger) FindTransactionByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Transaction, error) {
	return FindTransactionByExternalRef(ctx, db, ref)
}

// UpdateTransactionStatus proxies UpdateTransactionStatus.
func (Ledger) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.TransactionStatus, u StatusUpdate) error {
	return UpdateTransactionStatus(ctx, db, id, from, to, u)
}

// AttachExternalID proxies AttachExternalID.
func (Ledger) AttachExternalID(ctx context.Context, db *gorm.DB, id, externalID string, metadata datatypes.JSONMap) error {
	return AttachExternalID(ctx, db, id, externalID, metadata)
}

// ListStalePending proxies ListStalePending.
func (Ledger) ListStalePending(ctx context.Context, db *gorm.DB, typ domain.TransactionType, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	return ListStalePending(ctx, db, typ, olderThan, limit)
}

// CountTransactions proxies CountTransactions.
func (Ledger) CountTransactions(ctx context.Context, db *gorm.DB, f TransactionFilter) (int64, error) {
	return CountTransactions(ctx, db, f)
}

// ListTransactionsPage proxies ListTransactionsPage.
func (Ledger) ListTransactionsPage(ctx context.Context, db *gorm.DB, f TransactionFilter, offset, limit int) ([]domain.Transaction, error) {
	return ListTransactionsPage(ctx, db, f, offset, limit)
}
