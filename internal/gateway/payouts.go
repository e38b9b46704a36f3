package gateway

import (
	"context"
	"errors"
)

// Payouts combines a Client with a TokenCache so callers never handle
// tokens. A 401 on a data call drops the cached token and retries once.
type Payouts struct {
	client *Client
	tokens *TokenCache
}

// NewPayouts wires client and tokens together.
func NewPayouts(client *Client, tokens *TokenCache) *Payouts {
	return &Payouts{client: client, tokens: tokens}
}

// BulkStatus fetches the provider status for every id in one call.
func (p *Payouts) BulkStatus(ctx context.Context, ids []string) ([]StatusResult, error) {
	var out []StatusResult
	err := p.withToken(ctx, func(token string) error {
		var err error
		out, err = p.client.BulkStatus(ctx, token, ids)
		return err
	})
	return out, err
}

// Disburse initiates a payout.
func (p *Payouts) Disburse(ctx context.Context, req DisburseRequest) (*DisburseResponse, error) {
	var out *DisburseResponse
	err := p.withToken(ctx, func(token string) error {
		var err error
		out, err = p.client.Disburse(ctx, token, req)
		return err
	})
	return out, err
}

func (p *Payouts) withToken(ctx context.Context, call func(token string) error) error {
	for attempt := 0; ; attempt++ {
		token, err := p.tokens.GetAccessToken(ctx)
		if err != nil {
			return err
		}
		err = call(token)
		if errors.Is(err, ErrUnauthorized) && attempt == 0 {
			if ierr := p.tokens.Invalidate(ctx); ierr != nil {
				return ierr
			}
			continue
		}
		return err
	}
}
