package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/utils"
)

// TransactionService serves read-only ledger queries for operators.
type TransactionService struct {
	DB   *gorm.DB
	Repo LedgerRepo
}

// NewTransactionService constructs a TransactionService.
func NewTransactionService(db *gorm.DB, r LedgerRepo) *TransactionService {
	return &TransactionService{DB: db, Repo: r}
}

// Get returns a single transaction by id.
func (s *TransactionService) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.Repo.GetTransaction(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

// ListPage returns a page of transactions matching f and the total count.
// It applies defaults for invalid page/pageSize.
func (s *TransactionService) ListPage(ctx context.Context, f repo.TransactionFilter, page, pageSize int) ([]domain.Transaction, int64, error) {
	page, pageSize = utils.ClampPage(page, pageSize, 20, 100)
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountTransactions(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Transaction{}, 0, nil
	}

	items, err := s.Repo.ListTransactionsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}
