// Withdrawal endpoint.
//
//   - POST /withdrawals  (create a payout; replay-safe per reference)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payout-reconciler/internal/gateway"
	"github.com/tbourn/go-payout-reconciler/internal/http/middleware"
	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/services"
)

// CreateWithdrawal handles POST /withdrawals.
//
// A new payout answers 201. A repeated reference answers 200 with the
// original record and Idempotent-Replayed: true. A payout the provider
// refused is still a created (failed) record.
func (h *Handlers) CreateWithdrawal(c *gin.Context) {
	var req services.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		req.UserID = userID(c)
	}

	tx, replayed, err := h.wdSvc.Initiate(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAmount, err.Error())
		return
	case errors.Is(err, services.ErrInvalidWithdrawal):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, idempotency.ErrInFlight):
		c.Header("Retry-After", "1")
		fail(c, http.StatusConflict, ErrCodeRequestInFlight, "withdrawal "+req.Reference+" is still being processed")
		return
	case errors.Is(err, gateway.ErrUpstreamUnavailable),
		errors.Is(err, gateway.ErrAuthenticationFailed),
		errors.Is(err, gateway.ErrTokenBusy),
		errors.Is(err, context.DeadlineExceeded):
		retryLater(c, ErrCodeUpstreamUnavailable, "payout provider unavailable")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeWithdrawalFailed, "could not initiate withdrawal")
		return
	}

	if replayed {
		c.Header(middleware.HeaderIdempotentReplayed, "true")
		ok(c, http.StatusOK, tx)
		return
	}
	ok(c, http.StatusCreated, tx)
}
