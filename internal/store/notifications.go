package store

import (
	"context"
	"fmt"

	"finance_tracker/internal/domain"
)

const notificationBatch = 100

// CreateNotifications inserts a batch of notifications
func (s *Store) CreateNotifications(ctx context.Context, ns []domain.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&ns, notificationBatch).Error; err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications newest first, with the related
// transaction title. limit <= 0 means no limit.
func (s *Store) ListNotifications(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]domain.Notification, error) {
	ns := []domain.Notification{}
	q := s.db.WithContext(ctx).
		Table("notifications AS n").
		Select("n.*, t.title AS transaction_title").
		Joins("LEFT JOIN transactions t ON n.transaction_id = t.id").
		Where("n.user_id = ?", userID)
	if unreadOnly {
		q = q.Where("n.is_read = ?", false)
	}
	q = q.Order("n.created_at DESC").Order("n.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ns).Error; err != nil {
		return nil, fmt.Errorf("list notifications for user %d: %w", userID, err)
	}
	return ns, nil
}

// MarkNotificationRead acknowledges one notification owned by userID. Acknowledging an
// already read notification is a no-op; an id owned by another user is ErrNotFound.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead acknowledges every unread notification of userID
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read for user %d: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}
