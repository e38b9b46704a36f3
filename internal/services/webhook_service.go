package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/sysutil"
	"github.com/tbourn/go-payout-reconciler/internal/webhook"
)

// HandleStatus tells the transport how a callback ended.
type HandleStatus string

const (
	// HandleProcessed means the callback changed a ledger record.
	HandleProcessed HandleStatus = "processed"
	// HandleDuplicate means the event had already been applied.
	HandleDuplicate HandleStatus = "duplicate"
	// HandleIgnored means the callback was authentic but had nothing to apply.
	HandleIgnored HandleStatus = "ignored"
	// HandleRejected means the signature did not verify.
	HandleRejected HandleStatus = "rejected"
)

// SignatureVerifier authenticates provider callbacks. *webhook.Verifier
// implements it.
type SignatureVerifier interface {
	Verify(p webhook.Payload, signature string, kind webhook.Kind) bool
}

// WebhookService verifies provider callbacks and feeds them to the ledger.
type WebhookService struct {
	Verifier SignatureVerifier
	Ledger   OutcomeApplier
	Log      zerolog.Logger
}

// NewWebhookService wires a WebhookService.
func NewWebhookService(v SignatureVerifier, ledger OutcomeApplier) *WebhookService {
	return &WebhookService{
		Verifier: v,
		Ledger:   ledger,
		Log:      log.With().Str("component", "webhook").Logger(),
	}
}

// HandleEvent processes a transaction callback envelope. Only TRANSACTION
// events move the ledger; other authentic events are ignored.
func (s *WebhookService) HandleEvent(ctx context.Context, ev webhook.Event, signature string) (HandleStatus, error) {
	if !s.Verifier.Verify(ev.Obj, signature, webhook.KindTransaction) {
		return s.reject(webhook.KindTransaction, ev.Obj), nil
	}
	if t := strings.ToUpper(strings.TrimSpace(ev.Type)); t != "" && t != "TRANSACTION" {
		s.Log.Debug().Str("type", ev.Type).Msg("non-transaction event ignored")
		webhookRequests.WithLabelValues(string(webhook.KindTransaction), string(HandleIgnored)).Inc()
		return HandleIgnored, nil
	}
	return s.process(ctx, webhook.KindTransaction, ev.Obj)
}

// Handle verifies payload as a message of kind and applies it. A rejected
// signature is a result, not an error; errors are reserved for conditions
// the provider should retry.
func (s *WebhookService) Handle(ctx context.Context, kind webhook.Kind, payload webhook.Payload, signature string) (HandleStatus, error) {
	if !s.Verifier.Verify(payload, signature, kind) {
		return s.reject(kind, payload), nil
	}
	return s.process(ctx, kind, payload)
}

func (s *WebhookService) reject(kind webhook.Kind, p webhook.Payload) HandleStatus {
	s.Log.Warn().
		Str("kind", string(kind)).
		Str("provider_id", p.String("id")).
		Msg("webhook signature rejected")
	webhookRequests.WithLabelValues(string(kind), string(HandleRejected)).Inc()
	return HandleRejected
}

func (s *WebhookService) process(ctx context.Context, kind webhook.Kind, p webhook.Payload) (status HandleStatus, err error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Handle", trace.WithAttributes(attribute.String("webhook.kind", string(kind))))
	defer span.End()
	defer func() {
		label := string(status)
		if err != nil {
			label = "error"
			span.RecordError(err)
		}
		webhookRequests.WithLabelValues(string(kind), label).Inc()
	}()

	msg, err := extract(kind, p)
	if err != nil {
		s.Log.Warn().Err(err).Str("kind", string(kind)).Str("provider_id", p.String("id")).Msg("authentic callback not applicable")
		return HandleIgnored, nil
	}
	logger := s.Log.With().
		Str("kind", string(kind)).
		Str("event_id", msg.eventID).
		Str("reference", msg.reference).
		Str("outcome", msg.outcome.String()).
		Logger()

	res, err := s.Ledger.ApplyOutcome(ctx, msg.eventID, msg.reference, msg.outcome, msg.metadata)
	if err != nil {
		logger.Error().Err(err).Msg("webhook processing failed")
		return "", err
	}
	switch res.Kind {
	case ApplyApplied:
		return HandleProcessed, nil
	case ApplyDuplicate:
		return HandleDuplicate, nil
	default:
		logger.Info().Str("result", res.Kind.String()).Msg("webhook had no effect")
		return HandleIgnored, nil
	}
}

type callback struct {
	eventID   string
	reference string
	outcome   domain.Outcome
	metadata  map[string]any
}

var errMissingID = errors.New("callback has no provider transaction id")

// extract maps a verified payload onto the ledger's outcome vocabulary.
func extract(kind webhook.Kind, p webhook.Payload) (callback, error) {
	cb := callback{eventID: strings.TrimSpace(p.String("id"))}
	if cb.eventID == "" {
		return cb, errMissingID
	}

	switch kind {
	case webhook.KindTransaction, webhook.KindRedirection:
		refs := []string{p.String("order.merchant_order_id"), p.String("merchant_order_id")}
		if kind == webhook.KindRedirection {
			refs = append(refs, p.String("order"))
		} else {
			refs = append(refs, p.String("order.id"))
		}
		cb.reference = sysutil.FirstNonEmpty(refs...)

		switch {
		case p.Bool("pending"):
			cb.outcome = domain.Pending()
		case p.Bool("success"):
			cb.outcome = domain.Completed()
		default:
			cb.outcome = domain.Failed(sysutil.FirstNonEmpty(p.String("data.message"), p.String("data_message"), "declined"))
		}
		cb.metadata = map[string]any{
			"source":       string(kind),
			"amount_cents": p.String("amount_cents"),
			"is_refunded":  p.Bool("is_refunded"),
			"is_voided":    p.Bool("is_voided"),
		}
		if v := p.String("source_data.type"); v != "" {
			cb.metadata["source_type"] = v
		}

	case webhook.KindDisbursement:
		cb.reference = p.String("client_reference")
		status := sysutil.FirstNonEmpty(p.String("disbursement_status"), p.String("status"))
		outcome, err := domain.MapProviderStatus(status)
		if err != nil {
			return cb, err
		}
		if outcome.Kind() == domain.OutcomeFailed {
			outcome = domain.Failed(sysutil.FirstNonEmpty(p.String("status_description"), status))
		}
		cb.outcome = outcome
		cb.metadata = map[string]any{
			"source":          string(kind),
			"provider_status": status,
		}

	default:
		return cb, webhook.ErrUnknownKind
	}
	return cb, nil
}
