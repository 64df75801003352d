package db

import (
	"time"

	"gorm.io/datatypes"
)

// User represents an account that can authenticate and spend download
// tokens. The bootstrap admin user (from env) will be created as a row
// in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Name         string `gorm:"size:128;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks users that can manage other users and webhooks.
	IsAdmin bool `gorm:"default:false"`

	// Active accounts can authenticate; deactivated ones are rejected
	// at the auth layer without deleting their history.
	Active bool `gorm:"default:true"`

	// Subscription is the current plan id ("free", "basic", ...).
	Subscription string `gorm:"size:32;default:free"`

	// TokensPerDay is the daily allotment the replenishment pass
	// restores TokensRemaining to.
	TokensPerDay    int `gorm:"not null;default:0"`
	TokensRemaining int `gorm:"not null;default:0"`

	// TokensUsed counts lifetime token spends; never decremented.
	TokensUsed int `gorm:"not null;default:0"`

	// SubscriptionExpiresAt, when set and in the past, makes the user
	// eligible for rollback to the free plan. Nil means no expiry.
	SubscriptionExpiresAt *time.Time
}

// File is a downloadable catalog entry. The source URL is resolved and
// streamed only at redemption time, never handed to clients directly.
type File struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	Title     string `gorm:"size:255;not null"`
	SourceURL string `gorm:"size:1024;not null"`

	// DRMFlags holds arbitrary per-file restriction metadata (e.g.
	// watermark, max_quality). Informational only at this layer.
	DRMFlags datatypes.JSONMap `gorm:"type:json"`
}

// DownloadKey is a single-use, time-limited download credential. A row
// is created together with a token debit and flips Used exactly once at
// redemption. Rows are never deleted; they double as the audit trail
// and block replay even after expiry.
type DownloadKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	UserID uint `gorm:"index;not null"`
	FileID uint `gorm:"index;not null"`

	// Secret is the raw capability value handed to the caller. High
	// entropy, unique, and the only way to reference the key from
	// outside.
	Secret string `gorm:"uniqueIndex;size:255;not null"`

	Used      bool      `gorm:"not null;default:false"`
	ExpiresAt time.Time `gorm:"not null"`
}

// Webhook is a registered notification target. EventType is one event
// name or "all".
type Webhook struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	Name      string `gorm:"size:128;not null"`
	URL       string `gorm:"size:1024;not null"`
	EventType string `gorm:"size:64;not null;default:all"`

	// SecretKey signs outgoing payloads (HMAC-SHA256). Returned to the
	// creator once, at registration.
	SecretKey string `gorm:"size:255;not null"`

	Active    bool `gorm:"default:true"`
	CreatedBy uint `gorm:"index"`
}

// WebhookLog records one delivery attempt to one target.
type WebhookLog struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	WebhookID uint   `gorm:"index;not null"`
	EventType string `gorm:"size:64;not null"`

	// Status is "success" or "failed".
	Status       string `gorm:"size:16;not null"`
	ResponseCode int
	ErrorMessage string `gorm:"size:255"`
}

// Setting is a single mutable runtime flag, keyed by name.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255;not null"`
}
