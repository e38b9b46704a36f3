package webhook

import "errors"

var (
	// ErrInvalidSignature means the supplied HMAC does not match the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownKind means no canonical field list exists for the message kind.
	ErrUnknownKind = errors.New("unknown webhook kind")
	// ErrMalformedPayload means the body could not be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
