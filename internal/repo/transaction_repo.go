// Package repo implements the data persistence layer for the ledger. This
// file provides the transaction functions consumed by the reconciliation
// services.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a caller's transaction. They follow the "thin repository"
// approach: no business rules beyond the guarded status update, which must be
// enforced in SQL to be race free.
//
// Error semantics:
//   - Missing rows return ErrNotFound (gorm.ErrRecordNotFound).
//   - A duplicate reference returns ErrDuplicate.
//   - A status update whose expected current status no longer holds returns
//     ErrStatusConflict; an edge the state machine forbids returns
//     ErrIllegalTransition without touching the database.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicate indicates that a transaction with the same reference
	// already exists.
	ErrDuplicate = errors.New("duplicate")

	// ErrStatusConflict means the row was no longer in the expected status.
	ErrStatusConflict = errors.New("transaction status changed concurrently")

	// ErrIllegalTransition means the requested status edge is not allowed.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// NewTransaction carries the fields of a ledger record at creation time.
type NewTransaction struct {
	UserID                string
	OrderID               *string
	Reference             string
	Amount                decimal.Decimal
	Currency              string
	Type                  domain.TransactionType
	ExternalOrderID       *string
	ExternalTransactionID *string
	Metadata              datatypes.JSONMap
}

// StatusUpdate is applied together with a status transition.
type StatusUpdate struct {
	ExternalTransactionID *string
	FailureReason         string
	Metadata              datatypes.JSONMap
}

// TransactionFilter narrows list queries. Zero fields match everything.
type TransactionFilter struct {
	UserID string
	Type   domain.TransactionType
	Status domain.TransactionStatus
}

// CreatePendingTransaction inserts a new ledger record in pending status.
func CreatePendingTransaction(ctx context.Context, db *gorm.DB, in NewTransaction) (*domain.Transaction, error) {
	return createTransaction(ctx, db, in, domain.StatusPending, "")
}

// CreateFailedTransaction records an operation the provider refused up front.
func CreateFailedTransaction(ctx context.Context, db *gorm.DB, in NewTransaction, reason string) (*domain.Transaction, error) {
	return createTransaction(ctx, db, in, domain.StatusFailed, reason)
}

func createTransaction(ctx context.Context, db *gorm.DB, in NewTransaction, status domain.TransactionStatus, reason string) (*domain.Transaction, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("invalid transaction type %q", in.Type)
	}
	if strings.TrimSpace(in.Reference) == "" {
		return nil, errors.New("reference is required")
	}
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:                    uuid.NewString(),
		UserID:                in.UserID,
		OrderID:               in.OrderID,
		Reference:             in.Reference,
		Amount:                in.Amount,
		Currency:              in.Currency,
		Type:                  in.Type,
		Status:                status,
		ExternalTransactionID: in.ExternalTransactionID,
		ExternalOrderID:       in.ExternalOrderID,
		FailureReason:         reason,
		Metadata:              in.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := db.WithContext(ctx).Create(tx).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return tx, nil
}

// GetTransaction fetches a ledger record by its primary key.
func GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionByReference fetches a ledger record by our own reference.
func GetTransactionByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := db.WithContext(ctx).Where("reference = ?", reference).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByExternalRef resolves a reference quoted by the provider.
// It matches our reference first, then the provider order id, the provider
// transaction id, and finally the primary key.
func FindTransactionByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Transaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	var candidates []domain.Transaction
	err := db.WithContext(ctx).
		Where("reference = ? OR external_order_id = ? OR external_transaction_id = ? OR id = ?", ref, ref, ref, ref).
		Order("created_at asc").
		Limit(8).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	best, rank := -1, 4
	for i := range candidates {
		if r := refRank(&candidates[i], ref); r < rank {
			best, rank = i, r
		}
	}
	if best < 0 {
		return nil, ErrNotFound
	}
	return &candidates[best], nil
}

func refRank(tx *domain.Transaction, ref string) int {
	switch {
	case tx.Reference == ref:
		return 0
	case tx.ExternalOrderID != nil && *tx.ExternalOrderID == ref:
		return 1
	case tx.ExternalTransactionID != nil && *tx.ExternalTransactionID == ref:
		return 2
	default:
		return 3
	}
}

// UpdateTransactionStatus moves a record from one status to another. The
// write is conditional on the row still being in from, so two writers can
// never both succeed. Metadata keys are merged into the existing map by the
// caller and stored as given.
func UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.TransactionStatus, u StatusUpdate) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	fields := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if u.FailureReason != "" {
		fields["failure_reason"] = u.FailureReason
	}
	if u.Metadata != nil {
		fields["metadata"] = u.Metadata
	}
	if u.ExternalTransactionID != nil && *u.ExternalTransactionID != "" {
		fields["external_transaction_id"] = *u.ExternalTransactionID
	}

	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetTransaction(ctx, db, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// AttachExternalID records the provider's id on a record that is still
// pending. It returns ErrStatusConflict when the record has already moved on.
func AttachExternalID(ctx context.Context, db *gorm.DB, id, externalID string, metadata datatypes.JSONMap) error {
	if strings.TrimSpace(externalID) == "" {
		return errors.New("external id is required")
	}
	fields := map[string]any{
		"external_transaction_id": externalID,
		"updated_at":              time.Now().UTC(),
	}
	if metadata != nil {
		fields["metadata"] = metadata
	}
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetTransaction(ctx, db, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ListStalePending returns pending records of type created before olderThan,
// oldest first, capped at limit.
func ListStalePending(ctx context.Context, db *gorm.DB, typ domain.TransactionType, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := db.WithContext(ctx).
		Where("type = ? AND status = ? AND created_at < ?", typ, domain.StatusPending, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountTransactions returns the number of records matching f.
func CountTransactions(ctx context.Context, db *gorm.DB, f TransactionFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Transaction{})).Count(&total).Error
	return total, err
}

// ListTransactionsPage returns a page of records matching f, newest first.
// Use CountTransactions for pagination metadata.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, f TransactionFilter, offset, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (f TransactionFilter) apply(q *gorm.DB) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "sqlstate 23505")
}
