// Ledger read endpoints.
//
//   - GET /transactions/{id}  (single record, weak ETag)
//   - GET /transactions       (filtered, paginated)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
	"github.com/tbourn/go-payout-reconciler/internal/repo"
	"github.com/tbourn/go-payout-reconciler/internal/services"
)

// ListTransactionsResponse wraps a page of ledger records and pagination
// information.
type ListTransactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// GetTransaction handles GET /transactions/{id}. It honors If-None-Match
// with a weak ETag derived from the record's status and update time.
func (h *Handlers) GetTransaction(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "transaction id must be a UUID")
		return
	}

	tx, err := h.txSvc.Get(c.Request.Context(), id)
	if errors.Is(err, services.ErrTransactionNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load transaction")
		return
	}

	etag := fmt.Sprintf(`W/"tx:%s:%s:%d"`, tx.ID, tx.Status, tx.UpdatedAt.UnixNano())
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, tx)
}

// ListTransactions handles GET /transactions. Optional filters: user_id,
// type, status. Pagination: page, page_size.
func (h *Handlers) ListTransactions(c *gin.Context) {
	f := repo.TransactionFilter{
		UserID: c.Query("user_id"),
		Type:   domain.TransactionType(c.Query("type")),
		Status: domain.TransactionStatus(c.Query("status")),
	}
	if f.Type != "" && !f.Type.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown transaction type")
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown transaction status")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.txSvc.ListPage(c.Request.Context(), f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list transactions")
		return
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: items,
		Pagination:   newPagination(page, pageSize, total),
	})
}
