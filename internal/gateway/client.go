// Package gateway talks to the external payout provider: OAuth-style auth
// grants, bulk disbursement status inquiry, and disbursement initiation. The
// TokenCache keeps the short-lived bearer token shared across workers.
//
// Every call carries a bounded timeout; a timeout is reported as
// ErrUpstreamUnavailable and never treated as success.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tokenPath    = "/api/secure/o/token/"
	inquiryPath  = "/api/secure/transaction/inquire/"
	disbursePath = "/api/secure/disburse/"
)

// Credentials authenticate this platform against the provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials Credentials
}

// Client is a thin, stateless wrapper over the provider's HTTP API. It is
// safe for concurrent use.
type Client struct {
	http  *resty.Client
	creds Credentials
}

// NewClient builds a Client. A zero Timeout defaults to 15s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, creds: cfg.Credentials}
}

// PasswordGrant performs a full credential login.
func (c *Client) PasswordGrant(ctx context.Context) (*TokenResponse, error) {
	return c.grant(ctx, "password", map[string]string{
		"grant_type":    "password",
		"client_id":     c.creds.ClientID,
		"client_secret": c.creds.ClientSecret,
		"username":      c.creds.Username,
		"password":      c.creds.Password,
	})
}

// RefreshGrant exchanges a refresh token for a new token pair.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.grant(ctx, "refresh_token", map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.creds.ClientID,
		"client_secret": c.creds.ClientSecret,
		"refresh_token": refreshToken,
	})
}

func (c *Client) grant(ctx context.Context, grantType string, form map[string]string) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, "grant", attribute.String("grant_type", grantType))
	defer span.End()

	var out TokenResponse
	var perr providerError
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&perr).
		Post(tokenPath)
	if err = classify(resp, err); err != nil {
		if resp != nil && resp.StatusCode() != http.StatusTooManyRequests && resp.StatusCode() < 500 {
			err = fmt.Errorf("%w: %s grant: http %d %s", ErrGrantRejected, grantType, resp.StatusCode(), perr.message())
		}
		recordErr(span, err)
		return nil, err
	}
	if out.AccessToken == "" {
		err := fmt.Errorf("%w: %s grant returned no access token", ErrBadResponse, grantType)
		recordErr(span, err)
		return nil, err
	}
	return &out, nil
}

// BulkStatus queries the provider once for every id in ids.
func (c *Client) BulkStatus(ctx context.Context, accessToken string, ids []string) ([]StatusResult, error) {
	ctx, span := startSpan(ctx, "BulkStatus", attribute.Int("batch.size", len(ids)))
	defer span.End()

	var out inquiryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(inquiryRequest{TransactionIDs: ids}).
		SetResult(&out).
		Post(inquiryPath)
	if err = classify(resp, err); err != nil {
		if resp != nil && !isRetryableStatus(resp.StatusCode()) && resp.StatusCode() != http.StatusUnauthorized {
			err = fmt.Errorf("%w: inquiry http %d", ErrBadResponse, resp.StatusCode())
		}
		recordErr(span, err)
		return nil, err
	}
	return out.Results, nil
}

// Disburse initiates a payout. A provider refusal is returned as
// *DisbursementError; a body with a failed status is returned as a normal
// response for the caller to interpret.
func (c *Client) Disburse(ctx context.Context, accessToken string, req DisburseRequest) (*DisburseResponse, error) {
	ctx, span := startSpan(ctx, "Disburse", attribute.String("client_reference", req.ClientReference))
	defer span.End()

	var out DisburseResponse
	var perr providerError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(req).
		SetResult(&out).
		SetError(&perr).
		Post(disbursePath)
	if err = classify(resp, err); err != nil {
		if resp != nil && !isRetryableStatus(resp.StatusCode()) && resp.StatusCode() != http.StatusUnauthorized {
			err = &DisbursementError{HTTPStatus: resp.StatusCode(), Code: perr.StatusCode, Description: perr.message()}
		}
		recordErr(span, err)
		return nil, err
	}
	if out.TransactionID == "" {
		err := fmt.Errorf("%w: disbursement without transaction id", ErrBadResponse)
		recordErr(span, err)
		return nil, err
	}
	return &out, nil
}

// classify turns transport errors and non-2xx responses into the gateway
// error taxonomy. A nil return means a 2xx response.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case isRetryableStatus(code):
		return fmt.Errorf("%w: http %d", ErrUpstreamUnavailable, code)
	case code >= 300:
		return fmt.Errorf("http %d", code)
	}
	return nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("gateway/Client").Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
