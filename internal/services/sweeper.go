package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/gateway"
	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/store"
)

const sweepLockKey = "sweep:withdrawals"

// StatusQuerier asks the provider for the status of many payouts at once.
// *gateway.Payouts implements it.
type StatusQuerier interface {
	BulkStatus(ctx context.Context, ids []string) ([]gateway.StatusResult, error)
}

// OutcomeApplier applies one provider outcome. *LedgerReconciler implements it.
type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, externalEventID, internalRef string, outcome domain.Outcome, metadata map[string]any) (ApplyResult, error)
}

// Purger deletes expired key-value rows. *store.SQL implements it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweeperConfig tunes the payout sweeper.
type SweeperConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Selected       int
	Queried        int
	Applied        int
	Skipped        int
	Failed         int
	ProviderFailed bool
}

// PayoutSweeper reconciles withdrawals whose webhook never arrived by asking
// the provider for their status in bulk.
type PayoutSweeper struct {
	DB       *gorm.DB
	Repo     LedgerRepo
	Provider StatusQuerier
	Ledger   OutcomeApplier
	// Purger, when set, is run after each scheduled sweep.
	Purger Purger
	Log    zerolog.Logger

	cfg    SweeperConfig
	clk    clock.Clock
	locker *idempotency.Locker
}

// NewPayoutSweeper wires a sweeper. s hosts the cluster-wide sweep lock; a
// nil clock means wall time.
func NewPayoutSweeper(db *gorm.DB, r LedgerRepo, provider StatusQuerier, ledger OutcomeApplier, s store.Store, cfg SweeperConfig, clk clock.Clock) *PayoutSweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &PayoutSweeper{
		DB:       db,
		Repo:     r,
		Provider: provider,
		Ledger:   ledger,
		Log:      log.With().Str("component", "payout_sweeper").Logger(),
		cfg:      cfg.withDefaults(),
		clk:      clk,
		locker:   idempotency.NewLocker(s, ""),
	}
}

// SweepPendingWithdrawals reconciles one batch of stale pending withdrawals.
// A provider failure is logged and reported with a nil error so the next run
// retries; only a failure to read the ledger is returned.
func (s *PayoutSweeper) SweepPendingWithdrawals(ctx context.Context) (SweepReport, error) {
	tr := otel.Tracer("services/PayoutSweeper")
	ctx, span := tr.Start(ctx, "SweepPendingWithdrawals",
		trace.WithAttributes(attribute.Int("batch.size", s.cfg.BatchSize)),
	)
	defer span.End()

	var rep SweepReport
	cutoff := s.clk.Now().UTC().Add(-s.cfg.StaleAfter)
	pending, err := s.Repo.ListStalePending(ctx, s.DB, domain.TypeWithdrawal, cutoff, s.cfg.BatchSize)
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		span.RecordError(err)
		return rep, err
	}
	rep.Selected = len(pending)

	byExternal := make(map[string]*domain.Transaction, len(pending))
	for i := range pending {
		if id := pending[i].ExternalTransactionID; id != nil && *id != "" {
			byExternal[*id] = &pending[i]
		}
	}
	if len(byExternal) == 0 {
		sweepRuns.WithLabelValues("empty").Inc()
		return rep, nil
	}
	ids := make([]string, 0, len(byExternal))
	for id := range byExternal {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rep.Queried = len(ids)

	results, err := s.Provider.BulkStatus(ctx, ids)
	if err != nil {
		s.Log.Error().Err(err).Int("batch", len(ids)).Msg("bulk status inquiry failed; will retry next run")
		sweepRuns.WithLabelValues("provider_error").Inc()
		rep.ProviderFailed = true
		return rep, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	count := func(kind string) {
		sweepItems.WithLabelValues(kind).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch kind {
		case "applied":
			rep.Applied++
		case "failed":
			rep.Failed++
		default:
			rep.Skipped++
		}
	}
	for _, res := range results {
		tx, ok := byExternal[res.TransactionID]
		if !ok {
			s.Log.Warn().Str("provider_id", res.TransactionID).Msg("provider returned an id that was not requested")
			continue
		}
		g.Go(func() error {
			count(s.applyOne(ctx, tx, res))
			return nil
		})
	}
	_ = g.Wait()

	sweepRuns.WithLabelValues("ok").Inc()
	s.Log.Info().
		Int("selected", rep.Selected).
		Int("queried", rep.Queried).
		Int("applied", rep.Applied).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Msg("withdrawal sweep finished")
	return rep, nil
}

// applyOne reconciles a single item and returns its metrics label. Errors
// stay local to the item.
func (s *PayoutSweeper) applyOne(ctx context.Context, tx *domain.Transaction, res gateway.StatusResult) string {
	logger := s.Log.With().
		Str("transaction_id", tx.ID).
		Str("provider_id", res.TransactionID).
		Str("provider_status", res.Status).
		Logger()

	outcome, err := domain.MapProviderStatus(res.Status)
	if err != nil {
		logger.Warn().Err(err).Msg("unmapped provider status; skipped")
		return "unmapped"
	}
	if outcome.Kind() == domain.OutcomePending {
		return "pending"
	}
	if outcome.Kind() == domain.OutcomeFailed && res.StatusDescription != "" {
		outcome = domain.Failed(res.StatusDescription)
	}

	meta := map[string]any{
		"provider_status": res.Status,
		"source":          "sweeper",
	}
	if res.StatusCode != "" {
		meta["provider_status_code"] = res.StatusCode
	}
	if res.StatusDescription != "" {
		meta["provider_status_description"] = res.StatusDescription
	}

	result, err := s.Ledger.ApplyOutcome(ctx, res.TransactionID, tx.Reference, outcome, meta)
	switch {
	case errors.Is(err, ErrEventInFlight):
		return "in_flight"
	case err != nil:
		logger.Error().Err(err).Msg("apply outcome failed")
		return "failed"
	case result.Kind == ApplyApplied:
		return "applied"
	default:
		return result.Kind.String()
	}
}

// Run sweeps immediately and then on every interval until ctx is done. Each
// run first takes the cluster-wide sweep lease (see leaseTTL), so overlapping
// schedulers do not issue duplicate provider calls. The lease is left to
// expire rather than released.
func (s *PayoutSweeper) Run(ctx context.Context) {
	ticker := s.clk.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	s.Log.Info().Dur("interval", s.cfg.Interval).Msg("payout sweeper started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("payout sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// leaseTTL ends before the holder's next tick so a lone instance never skips
// its own run.
func (s *PayoutSweeper) leaseTTL() time.Duration {
	return s.cfg.Interval - min(s.cfg.Interval/2, time.Second)
}

func (s *PayoutSweeper) tick(ctx context.Context) {
	if _, err := s.locker.Acquire(ctx, sweepLockKey, s.leaseTTL()); err != nil {
		if errors.Is(err, idempotency.ErrLockNotAcquired) {
			sweepRuns.WithLabelValues("skipped").Inc()
			s.Log.Debug().Msg("another instance holds the sweep lease; skipping")
			return
		}
		s.Log.Error().Err(err).Msg("sweep lease acquisition failed")
		return
	}
	if _, err := s.SweepPendingWithdrawals(ctx); err != nil {
		s.Log.Error().Err(err).Msg("withdrawal sweep failed")
	}
	if s.Purger != nil {
		if n, err := s.Purger.PurgeExpired(ctx); err != nil {
			s.Log.Warn().Err(err).Msg("expired key purge failed")
		} else if n > 0 {
			s.Log.Debug().Int64("rows", n).Msg("expired keys purged")
		}
	}
}
