package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/store"
)

const (
	processedPrefix = "event:processed:"
	eventLockPrefix = "event:lock:"

	contentionPoll = 20 * time.Millisecond
)

// ApplyKind classifies what ApplyOutcome did.
type ApplyKind int

const (
	// ApplyApplied means the record moved to a new status.
	ApplyApplied ApplyKind = iota
	// ApplyDuplicate means the event was already processed.
	ApplyDuplicate
	// ApplyPending means the outcome was not final; nothing changed.
	ApplyPending
	// ApplyNotFound means no ledger record matched the reference.
	ApplyNotFound
	// ApplyAlreadyTerminal means the record had already settled.
	ApplyAlreadyTerminal
	// ApplyInFlight means another worker holds the event lock.
	ApplyInFlight
)

func (k ApplyKind) String() string {
	switch k {
	case ApplyApplied:
		return "applied"
	case ApplyDuplicate:
		return "duplicate"
	case ApplyPending:
		return "pending"
	case ApplyNotFound:
		return "not_found"
	case ApplyAlreadyTerminal:
		return "already_terminal"
	case ApplyInFlight:
		return "in_flight"
	}
	return "unknown"
}

// ApplyResult reports the effect of one ApplyOutcome call. Reason carries
// ErrTransactionNotFound or ErrAlreadyTerminal for the matching kinds.
type ApplyResult struct {
	Kind          ApplyKind
	TransactionID string
	From          domain.TransactionStatus
	To            domain.TransactionStatus
	Reason        error
}

// ReconcilerConfig holds the marker and lock lifetimes.
type ReconcilerConfig struct {
	// ProcessedTTL is how long a processed-event marker suppresses replays.
	ProcessedTTL time.Duration
	// LockTTL bounds how long a crashed worker can block an event.
	LockTTL time.Duration
	// ContentionWait is how long a delivery waits on a held event lock for
	// the holder to finish before giving up with ErrEventInFlight.
	ContentionWait time.Duration
}

// LedgerReconciler applies provider-reported outcomes to ledger records
// exactly once per provider transaction id.
type LedgerReconciler struct {
	DB     *gorm.DB
	Repo   LedgerRepo
	Store  store.Store
	Config ReconcilerConfig
	Log    zerolog.Logger

	locker *idempotency.Locker
}

// NewLedgerReconciler wires a reconciler. Zero config fields default to a
// 72h processed marker, a 30s event lock and a 2s contention wait.
func NewLedgerReconciler(db *gorm.DB, r LedgerRepo, s store.Store, cfg ReconcilerConfig) *LedgerReconciler {
	if cfg.ProcessedTTL <= 0 {
		cfg.ProcessedTTL = 72 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.ContentionWait <= 0 {
		cfg.ContentionWait = 2 * time.Second
	}
	return &LedgerReconciler{
		DB:     db,
		Repo:   r,
		Store:  s,
		Config: cfg,
		Log:    log.With().Str("component", "ledger_reconciler").Logger(),
		locker: idempotency.NewLocker(s, eventLockPrefix),
	}
}

// ApplyOutcome moves the record referenced by internalRef according to
// outcome, at most once for externalEventID.
//
// Data inconsistencies (unknown record, already settled) are reported in the
// result with a nil error. A persistence failure is returned before the
// event is marked processed, so a redelivery can try again. The event lock is
// always released.
func (r *LedgerReconciler) ApplyOutcome(ctx context.Context, externalEventID, internalRef string, outcome domain.Outcome, metadata map[string]any) (res ApplyResult, err error) {
	tr := otel.Tracer("services/LedgerReconciler")
	ctx, span := tr.Start(ctx, "ApplyOutcome",
		trace.WithAttributes(
			attribute.String("event.id", externalEventID),
			attribute.String("reference", internalRef),
			attribute.String("outcome", outcome.String()),
		),
	)
	defer span.End()
	defer func() {
		if err == nil {
			reconcileOutcomes.WithLabelValues(res.Kind.String()).Inc()
		} else if errors.Is(err, ErrEventInFlight) {
			reconcileOutcomes.WithLabelValues(ApplyInFlight.String()).Inc()
		} else {
			reconcileOutcomes.WithLabelValues("error").Inc()
			span.RecordError(err)
		}
	}()

	externalEventID = strings.TrimSpace(externalEventID)
	if externalEventID == "" {
		return ApplyResult{}, ErrEmptyEventID
	}
	logger := r.Log.With().Str("event_id", externalEventID).Str("reference", internalRef).Logger()

	// 1) dedupe
	done, err := r.processed(ctx, externalEventID)
	if err != nil {
		return ApplyResult{}, err
	}
	if done {
		return ApplyResult{Kind: ApplyDuplicate}, nil
	}

	// 2) serialize deliveries of the same event
	lock, done, err := r.acquireEvent(ctx, externalEventID)
	if errors.Is(err, ErrEventInFlight) {
		return ApplyResult{Kind: ApplyInFlight}, err
	}
	if err != nil {
		return ApplyResult{}, err
	}
	if done {
		return ApplyResult{Kind: ApplyDuplicate}, nil
	}
	defer func() {
		if rerr := lock.Release(ctx); rerr != nil {
			logger.Warn().Err(rerr).Msg("event lock release failed")
		}
	}()

	// The previous holder may have finished between the check and the lock.
	if done, err = r.processed(ctx, externalEventID); err != nil {
		return ApplyResult{}, err
	}
	if done {
		return ApplyResult{Kind: ApplyDuplicate}, nil
	}

	// 3) locate
	tx, err := r.locate(ctx, internalRef, externalEventID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn().Str("outcome", outcome.String()).Msg("provider event references unknown transaction")
		return ApplyResult{Kind: ApplyNotFound, Reason: ErrTransactionNotFound}, nil
	}
	if err != nil {
		return ApplyResult{}, err
	}
	logger = logger.With().Str("transaction_id", tx.ID).Logger()

	if outcome.Kind() == domain.OutcomePending {
		return ApplyResult{Kind: ApplyPending, TransactionID: tx.ID, From: tx.Status}, nil
	}

	// 4) apply
	to, ok := outcome.Target(tx.Status)
	if !ok {
		logger.Warn().
			Str("status", string(tx.Status)).
			Str("outcome", outcome.String()).
			Msg("conflicting outcome for settled transaction; ignored")
		return ApplyResult{Kind: ApplyAlreadyTerminal, TransactionID: tx.ID, From: tx.Status, Reason: ErrAlreadyTerminal}, nil
	}

	update := repo.StatusUpdate{
		FailureReason: outcome.Reason(),
		Metadata:      mergeMetadata(tx.Metadata, metadata, externalEventID),
	}
	if tx.ExternalTransactionID == nil || *tx.ExternalTransactionID == "" {
		update.ExternalTransactionID = &externalEventID
	}
	err = r.Repo.UpdateTransactionStatus(ctx, r.DB, tx.ID, tx.Status, to, update)
	if errors.Is(err, repo.ErrStatusConflict) {
		logger.Warn().Str("status", string(tx.Status)).Msg("transaction settled concurrently; ignored")
		return ApplyResult{Kind: ApplyAlreadyTerminal, TransactionID: tx.ID, From: tx.Status, Reason: ErrAlreadyTerminal}, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("ledger update failed; event left unprocessed")
		return ApplyResult{}, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}

	// 5) mark processed. The status guard already blocks a second
	// transition, so a failed marker write is only logged.
	if err := r.Store.Set(ctx, processedPrefix+externalEventID, "1", r.Config.ProcessedTTL); err != nil {
		logger.Error().Err(err).Msg("processed marker write failed")
	}

	logger.Info().
		Str("from", string(tx.Status)).
		Str("to", string(to)).
		Msg("transaction reconciled")
	return ApplyResult{Kind: ApplyApplied, TransactionID: tx.ID, From: tx.Status, To: to}, nil
}

// acquireEvent takes the event lock. While another delivery holds it, the
// caller polls for up to ContentionWait: done is true once the holder has
// marked the event processed, and a released lock is taken over.
func (r *LedgerReconciler) acquireEvent(ctx context.Context, id string) (lock *idempotency.Lock, done bool, err error) {
	deadline := time.Now().Add(r.Config.ContentionWait)
	for {
		lock, err = r.locker.Acquire(ctx, id, r.Config.LockTTL)
		if !errors.Is(err, idempotency.ErrLockNotAcquired) {
			return lock, false, err
		}
		if done, err = r.processed(ctx, id); err != nil || done {
			return nil, done, err
		}
		if !time.Now().Before(deadline) {
			return nil, false, fmt.Errorf("%w: %s", ErrEventInFlight, id)
		}
		t := time.NewTimer(contentionPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false, ctx.Err()
		case <-t.C:
		}
	}
}

// Processed reports whether externalEventID has already been applied.
func (r *LedgerReconciler) Processed(ctx context.Context, externalEventID string) (bool, error) {
	return r.processed(ctx, strings.TrimSpace(externalEventID))
}

func (r *LedgerReconciler) processed(ctx context.Context, id string) (bool, error) {
	_, err := r.Store.Get(ctx, processedPrefix+id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read processed marker: %w", err)
	}
}

// locate resolves by our reference first and falls back to the provider id.
func (r *LedgerReconciler) locate(ctx context.Context, internalRef, externalEventID string) (*domain.Transaction, error) {
	if strings.TrimSpace(internalRef) != "" {
		tx, err := r.Repo.FindTransactionByExternalRef(ctx, r.DB, internalRef)
		if !errors.Is(err, repo.ErrNotFound) {
			return tx, err
		}
	}
	return r.Repo.FindTransactionByExternalRef(ctx, r.DB, externalEventID)
}

func mergeMetadata(existing datatypes.JSONMap, incoming map[string]any, eventID string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(existing)+len(incoming)+1)
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	out["provider_event_id"] = eventID
	return out
}
