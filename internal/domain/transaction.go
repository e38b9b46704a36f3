// Package domain defines the persistence models and value types shared by the
// ledger, reconciliation, and idempotency layers. Ledger types are mapped with
// GORM; the outcome variant is the boundary type for provider-reported state.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionType is the closed set of ledger movement kinds.
type TransactionType string

const (
	TypeEscrowDeposit        TransactionType = "escrow_deposit"
	TypeEscrowRelease        TransactionType = "escrow_release"
	TypeRefund               TransactionType = "refund"
	TypeRefundReversal       TransactionType = "refund_reversal"
	TypeEarning              TransactionType = "earning"
	TypeEarningReversal      TransactionType = "earning_reversal"
	TypeWithdrawal           TransactionType = "withdrawal"
	TypeCommission           TransactionType = "commission"
	TypeCommissionWithdrawal TransactionType = "commission_withdrawal"
	TypeReferralCredit       TransactionType = "referral_credit"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeEscrowDeposit, TypeEscrowRelease, TypeRefund, TypeRefundReversal,
		TypeEarning, TypeEarningReversal, TypeWithdrawal, TypeCommission,
		TypeCommissionWithdrawal, TypeReferralCredit:
		return true
	}
	return false
}

// Transaction is a single money movement recorded in the ledger.
//
// A transaction is created in StatusPending alongside the outbound provider
// call and is moved to a terminal status exactly once, either by a webhook
// delivery or by the payout sweeper.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID / OrderID: owner and (optional) related marketplace order.
//   - Reference: our own reference sent to the provider (merchant order id or
//     disbursement client reference); unique.
//   - ExternalTransactionID: provider transaction id, set once resolved.
//   - ExternalOrderID: provider order/intention id, set at creation time.
//   - Metadata: free-form provider details merged on every status update.
type Transaction struct {
	ID                    string            `json:"id"                                gorm:"type:char(36);primaryKey"`
	UserID                string            `json:"user_id"                           gorm:"type:varchar(64);not null;index"`
	OrderID               *string           `json:"order_id,omitempty"                gorm:"type:varchar(64);index"`
	Reference             string            `json:"reference"                         gorm:"type:varchar(128);not null;uniqueIndex"`
	Amount                decimal.Decimal   `json:"amount"                            gorm:"type:numeric(20,4);not null"`
	Currency              string            `json:"currency"                          gorm:"type:varchar(8);not null"`
	Type                  TransactionType   `json:"type"                              gorm:"type:varchar(32);not null;index:idx_tx_type_status,priority:1"`
	Status                TransactionStatus `json:"status"                            gorm:"type:varchar(32);not null;index:idx_tx_type_status,priority:2"`
	ExternalTransactionID *string           `json:"external_transaction_id,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	ExternalOrderID       *string           `json:"external_order_id,omitempty"       gorm:"type:varchar(128);index"`
	FailureReason         string            `json:"failure_reason,omitempty"          gorm:"type:text"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"                        gorm:"index"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }

// IsTerminal reports whether the transaction can no longer change status.
func (t *Transaction) IsTerminal() bool { return t.Status.Terminal() }
