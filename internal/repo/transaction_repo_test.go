package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
)

func newLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("ledger_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func strptr(s string) *string { return &s }

func seedPending(t *testing.T, db *gorm.DB, ref string, typ domain.TransactionType) *domain.Transaction {
	t.Helper()
	tx, err := CreatePendingTransaction(context.Background(), db, NewTransaction{
		UserID:    "u1",
		Reference: ref,
		Amount:    decimal.RequireFromString("100.25"),
		Currency:  "EGP",
		Type:      typ,
	})
	if err != nil {
		t.Fatalf("CreatePendingTransaction(%s): %v", ref, err)
	}
	return tx
}

func TestCreatePendingTransaction(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()

	tx, err := CreatePendingTransaction(ctx, db, NewTransaction{
		UserID:          "u1",
		Reference:       "ord-1",
		Amount:          decimal.RequireFromString("99.99"),
		Currency:        "EGP",
		Type:            domain.TypeEscrowDeposit,
		ExternalOrderID: strptr("intent-1"),
		Metadata:        datatypes.JSONMap{"source": "checkout"},
	})
	if err != nil {
		t.Fatalf("CreatePendingTransaction: %v", err)
	}
	if tx.ID == "" || tx.Status != domain.StatusPending {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	got, err := GetTransaction(ctx, db, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("99.99")) || got.Metadata["source"] != "checkout" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	if _, err := CreatePendingTransaction(ctx, db, NewTransaction{UserID: "u2", Reference: "ord-1", Type: domain.TypeEscrowDeposit}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreatePendingTransaction_Validation(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	if _, err := CreatePendingTransaction(ctx, db, NewTransaction{Reference: "r", Type: "bogus"}); err == nil {
		t.Fatal("expected error for invalid type")
	}
	if _, err := CreatePendingTransaction(ctx, db, NewTransaction{Reference: "  ", Type: domain.TypeWithdrawal}); err == nil {
		t.Fatal("expected error for empty reference")
	}
}

func TestCreateFailedTransaction(t *testing.T) {
	db := newLedgerDB(t)
	tx, err := CreateFailedTransaction(context.Background(), db, NewTransaction{
		UserID: "u1", Reference: "wd-1", Type: domain.TypeWithdrawal, Currency: "EGP",
	}, "invalid bank code")
	if err != nil {
		t.Fatalf("CreateFailedTransaction: %v", err)
	}
	if tx.Status != domain.StatusFailed || tx.FailureReason != "invalid bank code" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestFindTransactionByExternalRef(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()

	a := seedPending(t, db, "ord-a", domain.TypeEscrowDeposit)
	if err := db.Model(a).Updates(map[string]any{"external_order_id": "555", "external_transaction_id": "TX-A"}).Error; err != nil {
		t.Fatal(err)
	}
	// b's reference collides with a's provider order id; reference wins.
	b := seedPending(t, db, "555", domain.TypeEscrowDeposit)

	cases := []struct {
		ref  string
		want string
	}{
		{"ord-a", a.ID},
		{"TX-A", a.ID},
		{"555", b.ID},
		{a.ID, a.ID},
	}
	for _, tc := range cases {
		got, err := FindTransactionByExternalRef(ctx, db, tc.ref)
		if err != nil {
			t.Fatalf("FindTransactionByExternalRef(%q): %v", tc.ref, err)
		}
		if got.ID != tc.want {
			t.Fatalf("FindTransactionByExternalRef(%q) = %s, want %s", tc.ref, got.ID, tc.want)
		}
	}

	for _, ref := range []string{"missing", "", "  "} {
		if _, err := FindTransactionByExternalRef(ctx, db, ref); !errors.Is(err, ErrNotFound) {
			t.Fatalf("FindTransactionByExternalRef(%q): expected ErrNotFound, got %v", ref, err)
		}
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	tx := seedPending(t, db, "wd-1", domain.TypeWithdrawal)

	err := UpdateTransactionStatus(ctx, db, tx.ID, domain.StatusPending, domain.StatusCompleted, StatusUpdate{
		ExternalTransactionID: strptr("PT-1"),
		Metadata:              datatypes.JSONMap{"provider_status": "successful"},
	})
	if err != nil {
		t.Fatalf("UpdateTransactionStatus: %v", err)
	}
	got, _ := GetTransaction(ctx, db, tx.ID)
	if got.Status != domain.StatusCompleted || got.ExternalTransactionID == nil || *got.ExternalTransactionID != "PT-1" {
		t.Fatalf("unexpected row after update: %+v", got)
	}
	if got.Metadata["provider_status"] != "successful" {
		t.Fatalf("metadata not stored: %+v", got.Metadata)
	}

	// Second writer expecting pending loses.
	err = UpdateTransactionStatus(ctx, db, tx.ID, domain.StatusPending, domain.StatusFailed, StatusUpdate{FailureReason: "late"})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	got, _ = GetTransaction(ctx, db, tx.ID)
	if got.Status != domain.StatusCompleted || got.FailureReason != "" {
		t.Fatalf("terminal row was modified: %+v", got)
	}
}

func TestUpdateTransactionStatus_Errors(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	tx := seedPending(t, db, "wd-2", domain.TypeWithdrawal)

	if err := UpdateTransactionStatus(ctx, db, tx.ID, domain.StatusCompleted, domain.StatusFailed, StatusUpdate{}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := UpdateTransactionStatus(ctx, db, tx.ID, domain.StatusPending, domain.StatusRefundCompleted, StatusUpdate{}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := UpdateTransactionStatus(ctx, db, "nope", domain.StatusPending, domain.StatusCompleted, StatusUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachExternalID(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	tx := seedPending(t, db, "wd-3", domain.TypeWithdrawal)

	if err := AttachExternalID(ctx, db, tx.ID, "PT-3", datatypes.JSONMap{"provider_status": "pending"}); err != nil {
		t.Fatalf("AttachExternalID: %v", err)
	}
	got, _ := GetTransaction(ctx, db, tx.ID)
	if got.Status != domain.StatusPending || got.ExternalTransactionID == nil || *got.ExternalTransactionID != "PT-3" {
		t.Fatalf("unexpected row after attach: %+v", got)
	}
	if got.Metadata["provider_status"] != "pending" {
		t.Fatalf("metadata not stored: %+v", got.Metadata)
	}

	if err := UpdateTransactionStatus(ctx, db, tx.ID, domain.StatusPending, domain.StatusCompleted, StatusUpdate{}); err != nil {
		t.Fatal(err)
	}
	if err := AttachExternalID(ctx, db, tx.ID, "PT-other", nil); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict on settled row, got %v", err)
	}
	if err := AttachExternalID(ctx, db, "nope", "PT-9", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := AttachExternalID(ctx, db, tx.ID, " ", nil); err == nil {
		t.Fatal("expected error for empty external id")
	}
}

func TestListStalePending(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old1 := seedPending(t, db, "wd-old-1", domain.TypeWithdrawal)
	old2 := seedPending(t, db, "wd-old-2", domain.TypeWithdrawal)
	fresh := seedPending(t, db, "wd-fresh", domain.TypeWithdrawal)
	deposit := seedPending(t, db, "dep-old", domain.TypeEscrowDeposit)
	done := seedPending(t, db, "wd-done", domain.TypeWithdrawal)

	backdate := func(tx *domain.Transaction, at time.Time) {
		if err := db.Model(&domain.Transaction{}).Where("id = ?", tx.ID).Update("created_at", at).Error; err != nil {
			t.Fatal(err)
		}
	}
	backdate(old1, now.Add(-2*time.Hour))
	backdate(old2, now.Add(-time.Hour))
	backdate(deposit, now.Add(-3*time.Hour))
	backdate(done, now.Add(-3*time.Hour))
	_ = fresh
	if err := UpdateTransactionStatus(ctx, db, done.ID, domain.StatusPending, domain.StatusCompleted, StatusUpdate{}); err != nil {
		t.Fatal(err)
	}

	got, err := ListStalePending(ctx, db, domain.TypeWithdrawal, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(got) != 2 || got[0].ID != old1.ID || got[1].ID != old2.ID {
		t.Fatalf("unexpected stale set: %+v", got)
	}

	got, _ = ListStalePending(ctx, db, domain.TypeWithdrawal, now.Add(-10*time.Minute), 1)
	if len(got) != 1 || got[0].ID != old1.ID {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestListTransactionsPage_AndCount(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tx := seedPending(t, db, fmt.Sprintf("wd-%d", i), domain.TypeWithdrawal)
		if err := db.Model(&domain.Transaction{}).Where("id = ?", tx.ID).Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error; err != nil {
			t.Fatal(err)
		}
	}
	seedPending(t, db, "dep-1", domain.TypeEscrowDeposit)

	f := TransactionFilter{Type: domain.TypeWithdrawal, Status: domain.StatusPending}
	total, err := CountTransactions(ctx, db, f)
	if err != nil || total != 5 {
		t.Fatalf("CountTransactions = %d, %v; want 5", total, err)
	}
	page, err := ListTransactionsPage(ctx, db, f, 0, 2)
	if err != nil {
		t.Fatalf("ListTransactionsPage: %v", err)
	}
	if len(page) != 2 || page[0].Reference != "wd-4" || page[1].Reference != "wd-3" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, _ = ListTransactionsPage(ctx, db, f, 4, 2)
	if len(page) != 1 || page[0].Reference != "wd-0" {
		t.Fatalf("unexpected last page: %+v", page)
	}

	all, _ := CountTransactions(ctx, db, TransactionFilter{})
	if all != 6 {
		t.Fatalf("unfiltered count = %d, want 6", all)
	}
}
