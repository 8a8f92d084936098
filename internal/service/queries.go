package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"

	"github.com/sirupsen/logrus"
)

// ListQuery are the caller's list parameters before normalisation
type ListQuery struct {
	Search    string
	Category  string
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Normalize applies defaults and bounds so equal queries produce equal cache keys
func (q ListQuery) Normalize() ListQuery {
	q.Search = strings.TrimSpace(q.Search)
	if _, ok := store.SortColumns[q.SortBy]; !ok {
		q.SortBy = store.DefaultSort
	}
	if strings.EqualFold(q.SortOrder, "asc") {
		q.SortOrder = "ASC"
	} else {
		q.SortOrder = "DESC"
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return q
}

// keyEscaper keeps free-text values from producing the separator, so distinct
// queries never share a key.
var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// CacheKey composes the list cache key from normalised parameters
func (q ListQuery) CacheKey() string {
	parts := []string{
		keyEscaper.Replace(q.Search), keyEscaper.Replace(q.Category), keyEscaper.Replace(q.Type),
		formatDate(q.StartDate), formatDate(q.EndDate),
		q.SortBy, q.SortOrder,
		strconv.Itoa(q.Page), strconv.Itoa(q.Limit),
	}
	return listKeyPrefix + strings.Join(parts, ":")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// List returns one page of live transactions, read through the cache
func (s *TransactionService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	q = q.Normalize()
	key := q.CacheKey()

	var cached ListResult
	if s.cacheHit(ctx, key, &cached) {
		return &cached, nil
	}

	txs, total, err := s.store.ListTransactions(ctx, store.ListFilter{
		Search:    q.Search,
		Category:  q.Category,
		Type:      q.Type,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
		SortBy:    q.SortBy,
		Desc:      q.SortOrder == "DESC",
		Page:      q.Page,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, err
	}
	res := &ListResult{
		Transactions: txs,
		Pagination: Pagination{
			TotalCount:  total,
			TotalPages:  int((total + int64(q.Limit) - 1) / int64(q.Limit)),
			CurrentPage: q.Page,
			Limit:       q.Limit,
		},
	}
	if err := s.cache.SetIndexed(ctx, ListIndexKey, key, res, s.cacheTTL); err != nil {
		s.cacheFailed("set", key, err)
	}
	return res, nil
}

// Get returns a live transaction with its full history, read through the cache
func (s *TransactionService) Get(ctx context.Context, id uint) (*TransactionDetail, error) {
	key := ItemKey(id)
	var cached TransactionDetail
	if s.cacheHit(ctx, key, &cached) {
		return &cached, nil
	}

	tx, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &TransactionDetail{Transaction: tx, History: history}
	if err := s.cache.Set(ctx, key, detail, s.cacheTTL); err != nil {
		s.cacheFailed("set", key, err)
	}
	return detail, nil
}

// History returns the audit trail of any transaction that ever existed, including
// soft-deleted ones. It is not cached.
func (s *TransactionService) History(ctx context.Context, id uint) ([]domain.TransactionHistory, error) {
	ok, err := s.store.TransactionExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup transaction %d: %w", id, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.store.ListHistory(ctx, id)
}

// cacheHit loads key into dest. Errors degrade to a miss so reads fall back to the store.
func (s *TransactionService) cacheHit(ctx context.Context, key string, dest any) bool {
	if s.bypassReads {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.cacheFailed("get", key, err)
		return false
	}
	return found
}

func (s *TransactionService) cacheFailed(op, key string, err error) {
	s.log.WithFields(logrus.Fields{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	}).Warn("Cache operation failed")
}
