package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tokengate/internal/config"
)

// SettingAutoRefreshTokens gates the daily token reset pass. Stored as
// "true"/"false" so admins can flip it without a restart.
const SettingAutoRefreshTokens = "auto_refresh_tokens"

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	// TranslateError surfaces unique-index violations as gorm.ErrDuplicatedKey.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the core tables and seeds default settings.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &File{}, &DownloadKey{}, &Webhook{}, &WebhookLog{}, &Setting{}); err != nil {
		return err
	}

	var count int64
	if err := db.Model(&Setting{}).Where("key = ?", SettingAutoRefreshTokens).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		if err := db.Create(&Setting{Key: SettingAutoRefreshTokens, Value: "true"}).Error; err != nil {
			return err
		}
	}

	return nil
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that email already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("email = ?", cfg.AdminEmail).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Name:         "admin",
		Email:        cfg.AdminEmail,
		PasswordHash: string(hash),
		IsAdmin:      true,
		Active:       true,
	}

	return db.Create(admin).Error
}

// SettingValue returns the value of a settings row, or def if the row
// does not exist.
func SettingValue(db *gorm.DB, key, def string) (string, error) {
	var s Setting
	err := db.Where("key = ?", key).Limit(1).Find(&s).Error
	if err != nil {
		return "", err
	}
	if s.Key == "" {
		return def, nil
	}
	return s.Value, nil
}
