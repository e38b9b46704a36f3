package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable covers network failures, timeouts, 429 and 5xx
	// responses. It is always retryable.
	ErrUpstreamUnavailable = errors.New("payout provider unavailable")

	// ErrGrantRejected means the auth endpoint refused a grant (4xx).
	ErrGrantRejected = errors.New("auth grant rejected")

	// ErrAuthenticationFailed means neither the refresh grant nor the
	// password grant produced a token. No gateway call can succeed until
	// credentials are fixed.
	ErrAuthenticationFailed = errors.New("payout provider authentication failed")

	// ErrUnauthorized is returned by data calls answered with 401; the
	// cached access token should be dropped and the call retried once.
	ErrUnauthorized = errors.New("access token rejected")

	// ErrTokenBusy means another worker kept the refresh lock for longer than
	// this caller was willing to wait.
	ErrTokenBusy = errors.New("token refresh in progress elsewhere")

	// ErrBadResponse means the provider answered with a body we could not use.
	ErrBadResponse = errors.New("unexpected provider response")
)

// DisbursementError is the structured failure returned by the disbursement
// endpoint for requests the provider refused (4xx other than 401/429).
type DisbursementError struct {
	HTTPStatus  int
	Code        string
	Description string
}

func (e *DisbursementError) Error() string {
	return fmt.Sprintf("disbursement refused (http %d, code %s): %s", e.HTTPStatus, e.Code, e.Description)
}
