// Package store is the relational persistence layer: transactions, their audit history,
// per-user notifications and the user lookups the pipeline and hub depend on.
package store

import (
	"context"
	"errors"

	"finance_tracker/internal/db"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a row does not exist or is soft-deleted
var ErrNotFound = errors.New("record not found")

// Store runs parameterised queries against either the root connection or an open
// database transaction.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM connection
func New(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Atomic runs fn inside a single database transaction. Any error returned by fn rolls
// back every write made through the Store passed to it.
func (s *Store) Atomic(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.db)
}
