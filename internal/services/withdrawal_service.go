package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/gateway"
	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/sysutil"
)

// Disburser initiates payouts. *gateway.Payouts implements it.
type Disburser interface {
	Disburse(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResponse, error)
}

// WithdrawalRequest asks for a payout to a user's bank account. Reference is
// the caller's unique id for the withdrawal and doubles as the provider's
// client reference.
type WithdrawalRequest struct {
	UserID          string          `json:"user_id"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Issuer          string          `json:"issuer"`
	BankCardNumber  string          `json:"bank_card_number"`
	BankCode        string          `json:"bank_code"`
	TransactionType string          `json:"bank_transaction_type"`
	FullName        string          `json:"full_name"`
}

// WithdrawalService initiates payouts and records them in the ledger.
type WithdrawalService struct {
	DB      *gorm.DB
	Repo    LedgerRepo
	Gateway Disburser
	Idem    *idempotency.Core
	// Params tunes the idempotency window; zero fields use the core defaults.
	Params idempotency.Params
	// DefaultCurrency is used when a request leaves Currency empty.
	DefaultCurrency string
	Log             zerolog.Logger
}

// NewWithdrawalService wires a WithdrawalService.
func NewWithdrawalService(db *gorm.DB, r LedgerRepo, g Disburser, idem *idempotency.Core) *WithdrawalService {
	return &WithdrawalService{
		DB:              db,
		Repo:            r,
		Gateway:         g,
		Idem:            idem,
		DefaultCurrency: "EGP",
		Log:             log.With().Str("component", "withdrawals").Logger(),
	}
}

// Initiate starts a payout exactly once per reference. Concurrent or repeated
// calls with the same reference receive the first call's ledger record; the
// replayed flag reports whether this call reused it.
//
// A payout the provider refuses outright is recorded as a failed transaction
// and returned without error. Transport failures are returned and not cached,
// so the caller may retry with the same reference.
func (s *WithdrawalService) Initiate(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, bool, error) {
	tr := otel.Tracer("services/WithdrawalService")
	ctx, span := tr.Start(ctx, "Initiate",
		trace.WithAttributes(
			attribute.String("reference", req.Reference),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	if err := s.validate(&req); err != nil {
		return nil, false, err
	}

	tx, replayed, err := idempotency.Run(ctx, s.Idem, "withdrawal:"+req.Reference, s.Params,
		func(ctx context.Context) (domain.Transaction, error) {
			return s.initiate(ctx, req)
		})
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	return &tx, replayed, nil
}

func (s *WithdrawalService) validate(req *WithdrawalRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Reference = strings.TrimSpace(req.Reference)
	req.FullName = strings.TrimSpace(req.FullName)
	req.BankCardNumber = strings.TrimSpace(req.BankCardNumber)
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if req.UserID == "" || req.Reference == "" || req.FullName == "" || req.BankCardNumber == "" {
		return ErrInvalidWithdrawal
	}
	if req.Currency == "" {
		req.Currency = s.DefaultCurrency
	}
	return nil
}

func (s *WithdrawalService) initiate(ctx context.Context, req WithdrawalRequest) (domain.Transaction, error) {
	card := sysutil.MaskCardNumber(req.BankCardNumber)
	logger := s.Log.With().
		Str("reference", req.Reference).
		Str("user_id", req.UserID).
		Str("card", card).
		Logger()

	// The ledger row is written before the provider call, so no payout
	// leaves without a record.
	tx, err := s.pendingRecord(ctx, req, card)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Status != domain.StatusPending || (tx.ExternalTransactionID != nil && *tx.ExternalTransactionID != "") {
		// A record outliving its cached result means the payout already went out.
		return *tx, nil
	}
	logger = logger.With().Str("transaction_id", tx.ID).Logger()

	resp, err := s.Gateway.Disburse(ctx, gateway.DisburseRequest{
		Amount:          req.Amount,
		Issuer:          req.Issuer,
		BankCardNumber:  req.BankCardNumber,
		BankCode:        req.BankCode,
		TransactionType: req.TransactionType,
		FullName:        req.FullName,
		ClientReference: req.Reference,
	})
	var refused *gateway.DisbursementError
	if errors.As(err, &refused) {
		logger.Warn().Str("provider_code", refused.Code).Msg("disbursement refused by provider")
		return s.fail(ctx, tx, nil, refused.Description, datatypes.JSONMap{"provider_status_code": refused.Code})
	}
	if err != nil {
		// The pending record stays without a provider id; a retry resumes it
		// under the same client reference.
		logger.Error().Err(err).Msg("disbursement call failed")
		return domain.Transaction{}, fmt.Errorf("disburse: %w", err)
	}

	meta := datatypes.JSONMap{"provider_status": resp.Status}
	if outcome, merr := domain.MapProviderStatus(resp.Status); merr == nil && outcome.Kind() == domain.OutcomeFailed {
		reason := resp.StatusDescription
		if reason == "" {
			reason = resp.Status
		}
		return s.fail(ctx, tx, &resp.TransactionID, reason, meta)
	}

	// Completed or still processing: the webhook or the sweeper settles it.
	meta = mergeMap(tx.Metadata, meta)
	err = s.Repo.AttachExternalID(ctx, s.DB, tx.ID, resp.TransactionID, meta)
	switch {
	case errors.Is(err, repo.ErrStatusConflict):
		logger.Info().Str("provider_id", resp.TransactionID).Msg("withdrawal settled before the provider id was recorded")
	case err != nil:
		// Not returned: the payout went out, and the webhook still resolves
		// the record by reference.
		logger.Error().Err(err).Str("provider_id", resp.TransactionID).Msg("payout sent but provider id not recorded")
		tx.ExternalTransactionID = &resp.TransactionID
		tx.Metadata = meta
		return *tx, nil
	}
	logger.Info().Str("provider_id", resp.TransactionID).Msg("withdrawal initiated")
	return s.reload(ctx, tx)
}

// pendingRecord returns the ledger row for req.Reference, creating it when
// absent.
func (s *WithdrawalService) pendingRecord(ctx context.Context, req WithdrawalRequest, card string) (*domain.Transaction, error) {
	existing, err := s.Repo.GetTransactionByReference(ctx, s.DB, req.Reference)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	tx, err := s.Repo.CreatePendingTransaction(ctx, s.DB, repo.NewTransaction{
		UserID:    req.UserID,
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Type:      domain.TypeWithdrawal,
		Metadata:  datatypes.JSONMap{"bank_code": req.BankCode, "issuer": req.Issuer, "bank_card": card},
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return s.Repo.GetTransactionByReference(ctx, s.DB, req.Reference)
	}
	return tx, err
}

// fail settles a pending withdrawal the provider turned down.
func (s *WithdrawalService) fail(ctx context.Context, tx *domain.Transaction, externalID *string, reason string, meta datatypes.JSONMap) (domain.Transaction, error) {
	err := s.Repo.UpdateTransactionStatus(ctx, s.DB, tx.ID, domain.StatusPending, domain.StatusFailed, repo.StatusUpdate{
		ExternalTransactionID: externalID,
		FailureReason:         reason,
		Metadata:              mergeMap(tx.Metadata, meta),
	})
	if err != nil && !errors.Is(err, repo.ErrStatusConflict) {
		return domain.Transaction{}, err
	}
	return s.reload(ctx, tx)
}

func (s *WithdrawalService) reload(ctx context.Context, tx *domain.Transaction) (domain.Transaction, error) {
	got, err := s.Repo.GetTransaction(ctx, s.DB, tx.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *got, nil
}

func mergeMap(base, extra datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
