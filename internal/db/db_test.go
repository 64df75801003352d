package db

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a throwaway sqlite database with the full schema.
// File-backed (not :memory:) so concurrent access in tests goes through
// real locking; the busy timeout keeps competing writers retrying
// instead of failing.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func createTestUser(t *testing.T, gdb *gorm.DB, remaining, perDay int) *User {
	t.Helper()

	user := &User{
		Name:            "tester",
		Email:           "tester@example.com",
		PasswordHash:    "x",
		Active:          true,
		Subscription:    "basic",
		TokensPerDay:    perDay,
		TokensRemaining: remaining,
	}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func createTestFile(t *testing.T, gdb *gorm.DB, title, sourceURL string) *File {
	t.Helper()

	f := &File{Title: title, SourceURL: sourceURL}
	if err := gdb.Create(f).Error; err != nil {
		t.Fatalf("create test file: %v", err)
	}
	return f
}

func TestMigrateSeedsAutoRefreshSetting(t *testing.T) {
	gdb := openTestDB(t)

	v, err := SettingValue(gdb, SettingAutoRefreshTokens, "missing")
	if err != nil {
		t.Fatalf("setting lookup: %v", err)
	}
	if v != "true" {
		t.Fatalf("expected auto_refresh_tokens seeded to %q, got %q", "true", v)
	}
}

func TestSettingValueDefault(t *testing.T) {
	gdb := openTestDB(t)

	v, err := SettingValue(gdb, "no_such_setting", "fallback")
	if err != nil {
		t.Fatalf("setting lookup: %v", err)
	}
	if v != "fallback" {
		t.Fatalf("expected default value, got %q", v)
	}
}
