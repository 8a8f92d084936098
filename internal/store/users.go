package store

import (
	"context"
	"fmt"

	"finance_tracker/internal/domain"
)

// CreateUser inserts a user row
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindUserByEmail loads a user by login email
func (s *Store) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	return u, notFound(err)
}

// FindUser loads a user by id
func (s *Store) FindUser(ctx context.Context, id uint) (domain.User, error) {
	var u domain.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	return u, notFound(err)
}

// ResolveUser returns the public summary of a user
func (s *Store) ResolveUser(ctx context.Context, id uint) (domain.UserSummary, error) {
	u, err := s.FindUser(ctx, id)
	if err != nil {
		return domain.UserSummary{}, err
	}
	return u.Summary(), nil
}

// OtherUserIDs lists every user id except exclude
func (s *Store) OtherUserIDs(ctx context.Context, exclude uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("id <> ?", exclude).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return ids, nil
}

// ListUsers returns one page of users ordered by id, with the total count
func (s *Store) ListUsers(ctx context.Context, page, size int) ([]domain.User, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	users := []domain.User{}
	err := s.db.WithContext(ctx).
		Order("id").
		Offset((page - 1) * size).
		Limit(size).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}
