// Payout API handlers.
//
// This file holds the service contracts the transport depends on, the
// Handlers wiring, and helpers shared by the webhook, withdrawal and
// transaction endpoints. Handlers are transport-thin: they decode input,
// call application services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/services"
	"github.com/tbourn/go-payout-reconciler/internal/utils"
	"github.com/tbourn/go-payout-reconciler/internal/webhook"
)

//
// Service contracts (context-aware)
//

// WebhookService verifies and applies provider callbacks.
//
// A rejected signature is reported as services.HandleRejected, not as an
// error; errors mean the provider should redeliver.
type WebhookService interface {
	// HandleEvent processes a {"type","obj"} transaction envelope.
	HandleEvent(ctx context.Context, ev webhook.Event, signature string) (services.HandleStatus, error)
	// Handle processes a bare payload of the given kind.
	Handle(ctx context.Context, kind webhook.Kind, payload webhook.Payload, signature string) (services.HandleStatus, error)
}

// WithdrawalService initiates payouts exactly once per reference.
type WithdrawalService interface {
	Initiate(ctx context.Context, req services.WithdrawalRequest) (*domain.Transaction, bool, error)
}

// TransactionService reads ledger records.
type TransactionService interface {
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	ListPage(ctx context.Context, f repo.TransactionFilter, page, pageSize int) ([]domain.Transaction, int64, error)
}

//
// Handler wiring
//

// Handlers groups the webhook, withdrawal and ledger endpoints.
type Handlers struct {
	hookSvc WebhookService
	wdSvc   WithdrawalService
	txSvc   TransactionService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(hookSvc WebhookService, wdSvc WithdrawalService, txSvc TransactionService) *Handlers {
	return &Handlers{hookSvc: hookSvc, wdSvc: wdSvc, txSvc: txSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware), falling back to the X-User-ID header. It returns "" when
// neither is present.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return ""
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize). A page_size below 1 falls
// back to the default.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), defaultPage),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		defaultPageSize, maxPageSize,
	)
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
