package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance_tracker/internal/domain"
)

// AppendHistory records one audit entry. Entries are never updated or deleted.
func (s *Store) AppendHistory(ctx context.Context, h *domain.TransactionHistory) error {
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("append history for transaction %d: %w", h.TransactionID, err)
	}
	return nil
}

// LatestForeignEdit returns the newest history entry for transaction id written by
// someone other than actor after since, or nil when there is none.
func (s *Store) LatestForeignEdit(ctx context.Context, id, actor uint, since time.Time) (*domain.TransactionHistory, error) {
	var h domain.TransactionHistory
	err := s.db.WithContext(ctx).
		Table("transaction_history AS th").
		Select("th.*, u.full_name AS modified_by_name").
		Joins("LEFT JOIN users u ON th.modified_by = u.id").
		Where("th.transaction_id = ? AND th.modified_by <> ? AND th.modified_at > ?", id, actor, since).
		Order("th.modified_at DESC").
		Take(&h).Error
	if errors.Is(notFound(err), ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check recent edits: %w", err)
	}
	return &h, nil
}

// ListHistory returns every entry of a transaction, newest first
func (s *Store) ListHistory(ctx context.Context, id uint) ([]domain.TransactionHistory, error) {
	entries := []domain.TransactionHistory{}
	err := s.db.WithContext(ctx).
		Table("transaction_history AS th").
		Select("th.*, u.full_name AS modified_by_name").
		Joins("LEFT JOIN users u ON th.modified_by = u.id").
		Where("th.transaction_id = ?", id).
		Order("th.modified_at DESC").
		Order("th.id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list history for transaction %d: %w", id, err)
	}
	return entries, nil
}
