package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
)

func TestTransactionService_Get(t *testing.T) {
	db := newLedgerDB(t)
	svc := NewTransactionService(db, repo.Ledger{})
	tx := seedTx(t, db, "ref-1", domain.TypeEarning, "")

	got, err := svc.Get(context.Background(), tx.ID)
	if err != nil || got.Reference != "ref-1" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestTransactionService_ListPage(t *testing.T) {
	db := newLedgerDB(t)
	svc := NewTransactionService(db, repo.Ledger{})
	ctx := context.Background()

	items, total, err := svc.ListPage(ctx, repo.TransactionFilter{}, 0, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty ListPage = %v, %d, %v", items, total, err)
	}

	for i := 0; i < 3; i++ {
		seedTx(t, db, fmt.Sprintf("wd-%d", i), domain.TypeWithdrawal, "")
	}
	seedTx(t, db, "earn-1", domain.TypeEarning, "")

	items, total, err = svc.ListPage(ctx, repo.TransactionFilter{Type: domain.TypeWithdrawal}, 1, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("got %d items of %d, want 2 of 3", len(items), total)
	}
	items, _, _ = svc.ListPage(ctx, repo.TransactionFilter{Type: domain.TypeWithdrawal}, 2, 2)
	if len(items) != 1 {
		t.Fatalf("second page has %d items, want 1", len(items))
	}
}
