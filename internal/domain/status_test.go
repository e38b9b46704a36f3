package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusRefundPending, true},
		{StatusRefundPending, StatusRefundCompleted, true},
		{StatusRefundPending, StatusRefundFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRejected, StatusPending, false},
		{StatusPending, StatusRefundCompleted, false},
		{StatusRefundCompleted, StatusRefundFailed, false},
		{"bogus", StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s,%s)=%v; want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []TransactionStatus{StatusCompleted, StatusFailed, StatusRejected, StatusRefundCompleted, StatusRefundFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []TransactionStatus{StatusPending, StatusRefundPending, "unknown"} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	tx := &Transaction{Status: StatusCompleted}
	if !tx.IsTerminal() {
		t.Fatalf("completed transaction must report terminal")
	}
}

func TestTransactionTypeValid(t *testing.T) {
	if !TypeWithdrawal.Valid() || !TypeReferralCredit.Valid() {
		t.Fatalf("known types must be valid")
	}
	if TransactionType("payout").Valid() {
		t.Fatalf("unknown type must be invalid")
	}
}
