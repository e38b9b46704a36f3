package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
)

// ---------- test helpers ----------

func newLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// countingRepo observes writes made through the ledger contract.
type countingRepo struct {
	repo.Ledger
	updates atomic.Int32
	failErr error
}

func (c *countingRepo) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.TransactionStatus, u repo.StatusUpdate) error {
	c.updates.Add(1)
	if c.failErr != nil {
		return c.failErr
	}
	return c.Ledger.UpdateTransactionStatus(ctx, db, id, from, to, u)
}

func seedTx(t *testing.T, db *gorm.DB, ref string, typ domain.TransactionType, externalID string) *domain.Transaction {
	t.Helper()
	in := repo.NewTransaction{
		UserID:    "u1",
		Reference: ref,
		Amount:    decimal.RequireFromString("150.00"),
		Currency:  "EGP",
		Type:      typ,
	}
	if externalID != "" {
		in.ExternalTransactionID = &externalID
	}
	tx, err := repo.CreatePendingTransaction(context.Background(), db, in)
	if err != nil {
		t.Fatalf("seed %s: %v", ref, err)
	}
	return tx
}

func statusOf(t *testing.T, db *gorm.DB, id string) domain.TransactionStatus {
	t.Helper()
	tx, err := repo.GetTransaction(context.Background(), db, id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return tx.Status
}
