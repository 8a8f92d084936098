// Package dbtest opens throwaway migrated sqlite databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"finance_tracker/internal/db"
	"finance_tracker/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a fresh in-memory database with every table migrated
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// SeedUsers inserts one user per name and returns them in order
func SeedUsers(t testing.TB, gdb *gorm.DB, names ...string) []domain.User {
	t.Helper()
	users := make([]domain.User, 0, len(names))
	for _, n := range names {
		u := domain.User{
			Email:    strings.ToLower(n) + "@example.com",
			FullName: n,
			Password: "x",
			Role:     domain.RoleUser,
		}
		if err := gdb.Create(&u).Error; err != nil {
			t.Fatalf("seed user %s: %v", n, err)
		}
		users = append(users, u)
	}
	return users
}
