package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnmappedStatus is returned when a provider reports a status outside the
// vocabulary this service understands.
var ErrUnmappedStatus = errors.New("unmapped provider status")

// OutcomeKind tags the Outcome variant.
type OutcomeKind int

const (
	// OutcomePending means the provider has not settled yet; nothing to apply.
	OutcomePending OutcomeKind = iota
	// OutcomeCompleted means the provider settled the movement successfully.
	OutcomeCompleted
	// OutcomeFailed means the provider gave up on the movement.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the closed variant a provider-reported state is mapped into at
// the boundary. Construct it with Pending, Completed or Failed.
type Outcome struct {
	kind   OutcomeKind
	reason string
}

// Pending returns the no-op outcome.
func Pending() Outcome { return Outcome{kind: OutcomePending} }

// Completed returns the success outcome.
func Completed() Outcome { return Outcome{kind: OutcomeCompleted} }

// Failed returns the failure outcome with a provider-supplied reason.
func Failed(reason string) Outcome { return Outcome{kind: OutcomeFailed, reason: reason} }

// Kind returns the variant tag.
func (o Outcome) Kind() OutcomeKind { return o.kind }

// Reason returns the failure reason (empty unless Failed).
func (o Outcome) Reason() string { return o.reason }

func (o Outcome) String() string { return o.kind.String() }

// Target returns the status a transaction currently in from moves to under
// this outcome. ok is false when the outcome does not move the record.
//
// Settlement of a refund_pending record resolves into the refund_* pair.
func (o Outcome) Target(from TransactionStatus) (to TransactionStatus, ok bool) {
	switch {
	case o.kind == OutcomePending:
		return "", false
	case from == StatusPending && o.kind == OutcomeCompleted:
		return StatusCompleted, true
	case from == StatusPending && o.kind == OutcomeFailed:
		return StatusFailed, true
	case from == StatusRefundPending && o.kind == OutcomeCompleted:
		return StatusRefundCompleted, true
	case from == StatusRefundPending && o.kind == OutcomeFailed:
		return StatusRefundFailed, true
	}
	return "", false
}

// MapProviderStatus converts the payout provider's status vocabulary into an
// Outcome. Matching is case-insensitive; anything unknown is rejected with
// ErrUnmappedStatus rather than passed through.
func MapProviderStatus(status string) (Outcome, error) {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "successful", "success", "succeeded", "completed":
		return Completed(), nil
	case "pending", "processing", "in_progress", "queued":
		return Pending(), nil
	case "failed", "failure", "rejected", "declined", "error":
		return Failed(s), nil
	}
	return Outcome{}, fmt.Errorf("%w: %q", ErrUnmappedStatus, status)
}
