package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finance_tracker/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SortColumns maps accepted sort keys to columns. Anything else falls back to the default.
var SortColumns = map[string]string{
	"transaction_date": "transaction_date",
	"amount":           "amount",
	"title":            "title",
	"category":         "category",
	"transaction_type": "transaction_type",
	"type":             "transaction_type",
	"created_at":       "created_at",
	"updated_at":       "updated_at",
}

// DefaultSort is used when no valid sort column is given
const DefaultSort = "transaction_date"

// ListFilter selects a page of non-deleted transactions
type ListFilter struct {
	Search    string
	Category  string
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	SortBy    string
	Desc      bool
	Page      int
	Limit     int
}

// CreateTransaction inserts a new row
func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// mutableColumns are the columns rewritten by SaveTransaction
var mutableColumns = []string{
	"title", "amount", "category", "transaction_type", "transaction_date",
	"description", "last_modified_by", "is_deleted", "updated_at",
}

// SaveTransaction writes the mutable columns of an existing row, zero values included
func (s *Store) SaveTransaction(ctx context.Context, t *domain.Transaction) error {
	err := s.db.WithContext(ctx).Model(t).Select(mutableColumns).Updates(t).Error
	if err != nil {
		return fmt.Errorf("save transaction %d: %w", t.ID, err)
	}
	return nil
}

// FindActiveTransaction loads the raw row of a non-deleted transaction
func (s *Store) FindActiveTransaction(ctx context.Context, id uint) (domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&t).Error
	return t, notFound(err)
}

// TransactionExists reports whether a row with id was ever created, deleted or not
func (s *Store) TransactionExists(ctx context.Context, id uint) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.Transaction{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTransaction loads a non-deleted transaction with creator and modifier names
func (s *Store) GetTransaction(ctx context.Context, id uint) (domain.Transaction, error) {
	var t domain.Transaction
	err := s.withNames(ctx).Where("t.id = ? AND t.is_deleted = ?", id, false).Take(&t).Error
	return t, notFound(err)
}

// ListTransactions returns one page of matches and the total number of matches
func (s *Store) ListTransactions(ctx context.Context, f ListFilter) ([]domain.Transaction, int64, error) {
	var total int64
	if err := applyFilter(s.db.WithContext(ctx).Table("transactions AS t"), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	col, ok := SortColumns[f.SortBy]
	if !ok {
		col = DefaultSort
	}
	limit := max(f.Limit, 1)
	offset := (max(f.Page, 1) - 1) * limit

	txs := make([]domain.Transaction, 0, limit)
	err := applyFilter(s.withNames(ctx), f).
		Order(clause.OrderByColumn{Column: clause.Column{Table: "t", Name: col}, Desc: f.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Table: "t", Name: "id"}, Desc: true}).
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txs, total, nil
}

func (s *Store) withNames(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("transactions AS t").
		Select("t.*, u1.full_name AS created_by_name, u2.full_name AS modified_by_name").
		Joins("LEFT JOIN users u1 ON t.created_by = u1.id").
		Joins("LEFT JOIN users u2 ON t.last_modified_by = u2.id")
}

func applyFilter(q *gorm.DB, f ListFilter) *gorm.DB {
	q = q.Where("t.is_deleted = ?", false)
	if f.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		q = q.Where("(LOWER(t.title) LIKE ? ESCAPE '!' OR LOWER(t.description) LIKE ? ESCAPE '!')", pattern, pattern)
	}
	if f.Category != "" {
		q = q.Where("t.category = ?", f.Category)
	}
	if f.Type != "" {
		q = q.Where("t.transaction_type = ?", f.Type)
	}
	if f.StartDate != nil {
		q = q.Where("t.transaction_date >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("t.transaction_date <= ?", *f.EndDate)
	}
	return q
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
