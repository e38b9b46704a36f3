package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-payout-reconciler/internal/store"
)

func TestPayouts_RetriesOnceAfter401(t *testing.T) {
	var logins, inquiries int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			n := atomic.AddInt32(&logins, 1)
			tok := "t1"
			if n > 1 {
				tok = "t2"
			}
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: tok, ExpiresIn: 3600})
		case inquiryPath:
			atomic.AddInt32(&inquiries, 1)
			if r.Header.Get("Authorization") != "Bearer t2" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, inquiryResponse{Results: []StatusResult{{TransactionID: "T1", Status: "successful"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, Credentials: testCreds()})
	p := NewPayouts(client, NewTokenCache(store.NewMemory(nil), client, TokenCacheConfig{}, nil))

	res, err := p.BulkStatus(context.Background(), []string{"T1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.EqualValues(t, 2, atomic.LoadInt32(&logins))
	require.EqualValues(t, 2, atomic.LoadInt32(&inquiries))
}

func TestPayouts_AuthFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid credentials"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Credentials: testCreds()})
	p := NewPayouts(client, NewTokenCache(store.NewMemory(nil), client, TokenCacheConfig{}, nil))

	_, err := p.Disburse(context.Background(), DisburseRequest{ClientReference: "r"})
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}
