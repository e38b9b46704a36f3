// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients (operators, the payout provider, internal callers)
// a stable, machine-readable taxonomy that supplements human-readable
// messages. Every error response carries an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "request_in_flight",
//	  "message": "withdrawal wd-1001 is still being processed"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"

	// Domain-specific:
	ErrCodeMalformedPayload    = "malformed_payload"
	ErrCodeInvalidAmount       = "invalid_amount"
	ErrCodeRequestInFlight     = "request_in_flight"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeWithdrawalFailed    = "withdrawal_failed"
	ErrCodeWebhookFailed       = "webhook_failed"
	ErrCodeListFailed          = "list_failed"
)
