// Provider callback endpoints.
//
//   - POST /webhooks/transaction   ({"type","obj"} envelope, ?hmac=)
//   - GET  /webhooks/redirection   (flat query string incl. hmac)
//   - POST /webhooks/disbursement  (bare JSON, X-Signature header)
//
// Authentic or not, a callback that was fully handled answers 200 so the
// provider stops redelivering. Only transient failures answer 503.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payout-reconciler/internal/gateway"
	"github.com/tbourn/go-payout-reconciler/internal/services"
	"github.com/tbourn/go-payout-reconciler/internal/webhook"
)

// HeaderSignature carries the disbursement callback HMAC.
const HeaderSignature = "X-Signature"

// WebhookResponse reports how a callback was handled.
type WebhookResponse struct {
	Status services.HandleStatus `json:"status"`
}

// TransactionWebhook handles POST /webhooks/transaction.
func (h *Handlers) TransactionWebhook(c *gin.Context) {
	ev, err := webhook.DecodeEvent(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, "invalid transaction callback body")
		return
	}
	status, err := h.hookSvc.HandleEvent(c.Request.Context(), ev, c.Query("hmac"))
	h.webhookResult(c, status, err)
}

// RedirectionWebhook handles GET /webhooks/redirection. The hmac parameter
// is part of the query and is ignored by the canonical field list.
func (h *Handlers) RedirectionWebhook(c *gin.Context) {
	q := c.Request.URL.Query()
	if len(q) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, "empty redirection callback")
		return
	}
	status, err := h.hookSvc.Handle(c.Request.Context(), webhook.KindRedirection, webhook.FromQuery(q), q.Get("hmac"))
	h.webhookResult(c, status, err)
}

// DisbursementWebhook handles POST /webhooks/disbursement.
func (h *Handlers) DisbursementWebhook(c *gin.Context) {
	p, err := webhook.DecodeJSON(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, "invalid disbursement callback body")
		return
	}
	status, err := h.hookSvc.Handle(c.Request.Context(), webhook.KindDisbursement, p, c.GetHeader(HeaderSignature))
	h.webhookResult(c, status, err)
}

func (h *Handlers) webhookResult(c *gin.Context, status services.HandleStatus, err error) {
	switch {
	case err == nil:
		ok(c, http.StatusOK, WebhookResponse{Status: status})
	case errors.Is(err, services.ErrEventInFlight):
		retryLater(c, ErrCodeRequestInFlight, "event is being processed")
	case errors.Is(err, gateway.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		retryLater(c, ErrCodeUpstreamUnavailable, "temporarily unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, "webhook processing failed")
	}
}
