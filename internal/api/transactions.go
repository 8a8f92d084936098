package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Accepted layouts for transactionDate and the list date filters
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// CreateTransactionRequest is the body of POST /api/transactions
type CreateTransactionRequest struct {
	Title           string           `json:"title"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        string           `json:"category"`
	TransactionType string           `json:"transactionType"`
	TransactionDate string           `json:"transactionDate"`
	Description     string           `json:"description"`
}

// UpdateTransactionRequest is the body of PUT /api/transactions/:id. Omitted fields keep
// their stored value.
type UpdateTransactionRequest struct {
	Title           *string          `json:"title"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        *string          `json:"category"`
	TransactionType *string          `json:"transactionType"`
	TransactionDate *string          `json:"transactionDate"`
	Description     *string          `json:"description"`
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", service.ErrInvalidInput, s)
}

func (r CreateTransactionRequest) input() (service.CreateInput, error) {
	in := service.CreateInput{
		Title:       strings.TrimSpace(r.Title),
		Category:    r.Category,
		Type:        domain.TransactionType(r.TransactionType),
		Description: r.Description,
	}
	if r.Amount == nil {
		return in, fmt.Errorf("%w: amount is required", service.ErrInvalidInput)
	}
	in.Amount = *r.Amount
	if r.TransactionDate == "" {
		return in, fmt.Errorf("%w: transactionDate is required", service.ErrInvalidInput)
	}
	date, err := parseDate(r.TransactionDate)
	if err != nil {
		return in, err
	}
	in.Date = date
	return in, nil
}

func (r UpdateTransactionRequest) input() (service.UpdateInput, error) {
	in := service.UpdateInput{
		Title:       r.Title,
		Amount:      r.Amount,
		Category:    r.Category,
		Description: r.Description,
	}
	if r.Title != nil {
		t := strings.TrimSpace(*r.Title)
		in.Title = &t
	}
	if r.TransactionType != nil {
		tt := domain.TransactionType(*r.TransactionType)
		in.Type = &tt
	}
	if r.TransactionDate != nil {
		date, err := parseDate(*r.TransactionDate)
		if err != nil {
			return in, err
		}
		in.Date = &date
	}
	return in, nil
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abort(c, http.StatusBadRequest, CodeValidation, "Invalid id")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactionsHandler returns one page of live transactions
func ListTransactionsHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := queryDate(c, "startDate")
		if err != nil {
			respondError(c, err)
			return
		}
		end, err := queryDate(c, "endDate")
		if err != nil {
			respondError(c, err)
			return
		}
		res, err := svc.List(c.Request.Context(), service.ListQuery{
			Search:    c.Query("search"),
			Category:  c.Query("category"),
			Type:      c.Query("type"),
			StartDate: start,
			EndDate:   end,
			SortBy:    c.Query("sortBy"),
			SortOrder: c.Query("sortOrder"),
			Page:      queryInt(c, "page"),
			Limit:     queryInt(c, "limit"),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetTransactionHandler returns a live transaction with its history
func GetTransactionHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		detail, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// TransactionHistoryHandler returns the audit trail, including for deleted transactions
func TransactionHistoryHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		history, err := svc.History(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	}
}

// CreateTransactionHandler creates a transaction on behalf of the caller
func CreateTransactionHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
			return
		}
		in, err := req.input()
		if err != nil {
			respondError(c, err)
			return
		}
		res, err := svc.Create(c.Request.Context(), actorFrom(c), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// UpdateTransactionHandler applies a partial update. A concurrent edit is reported in
// the body with a 200.
func UpdateTransactionHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req UpdateTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
			return
		}
		in, err := req.input()
		if err != nil {
			respondError(c, err)
			return
		}
		res, err := svc.Update(c.Request.Context(), actorFrom(c), id, in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// DeleteTransactionHandler soft-deletes a transaction
func DeleteTransactionHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		deleted, err := svc.Delete(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Transaction deleted", "transaction": deleted})
	}
}
