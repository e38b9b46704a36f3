package domain

// TransactionStatus is the lifecycle state of a ledger Transaction.
type TransactionStatus string

const (
	StatusPending         TransactionStatus = "pending"
	StatusCompleted       TransactionStatus = "completed"
	StatusFailed          TransactionStatus = "failed"
	StatusRejected        TransactionStatus = "rejected"
	StatusRefundPending   TransactionStatus = "refund_pending"
	StatusRefundCompleted TransactionStatus = "refund_completed"
	StatusRefundFailed    TransactionStatus = "refund_failed"
)

// transitions lists every legal edge. Statuses without an entry are terminal.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:       {StatusCompleted, StatusFailed, StatusRejected, StatusRefundPending},
	StatusRefundPending: {StatusRefundCompleted, StatusRefundFailed},
}

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRejected,
		StatusRefundPending, StatusRefundCompleted, StatusRefundFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s TransactionStatus) Terminal() bool {
	if !s.Valid() {
		return false
	}
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from -> to is a legal edge.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
