package db

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrFileNotFound means the file id does not resolve to a catalog row.
	ErrFileNotFound = errors.New("file not found")

	// ErrKeyNotFound covers both never-issued and malformed secrets;
	// callers must not distinguish the two.
	ErrKeyNotFound = errors.New("download key not found")

	// ErrKeyAlreadyUsed means the key was redeemed before, or lost a
	// race against a concurrent redemption.
	ErrKeyAlreadyUsed = errors.New("download key already used")

	// ErrKeyExpired means the key's TTL elapsed before redemption. The
	// row is kept for audit.
	ErrKeyExpired = errors.New("download key expired")
)

// IssuedKey is what the issuer hands back to the caller. Secret is the
// only form the credential is ever exposed in.
type IssuedKey struct {
	Secret          string
	ExpiresAt       time.Time
	FileName        string
	TokensRemaining int
}

// Redemption carries what the handler needs to stream the file.
type Redemption struct {
	FileName  string
	SourceURL string
}

func generateKeySecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "dl_" + base64.URLEncoding.EncodeToString(b), nil
}

// ResolveFile looks up a catalog entry by id.
func ResolveFile(db *gorm.DB, fileID uint) (*File, error) {
	var f File
	if err := db.First(&f, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	return &f, nil
}

// IssueKey spends one of the user's tokens and mints a single-use
// download key for the file, valid for ttl. The debit and the key
// insert commit together or not at all.
//
// The file lookup happens before any debit so a bad file id never
// costs a token.
func IssueKey(db *gorm.DB, userID, fileID uint, ttl time.Duration) (*IssuedKey, error) {
	file, err := ResolveFile(db, fileID)
	if err != nil {
		return nil, err
	}

	secret, err := generateKeySecret()
	if err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}

	issued := &IssuedKey{
		Secret:    secret,
		ExpiresAt: time.Now().Add(ttl),
		FileName:  file.Title,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		remaining, err := DebitOne(tx, userID)
		if err != nil {
			return err
		}
		issued.TokensRemaining = remaining

		key := &DownloadKey{
			UserID:    userID,
			FileID:    file.ID,
			Secret:    secret,
			Used:      false,
			ExpiresAt: issued.ExpiresAt,
		}
		if err := tx.Create(key).Error; err != nil {
			return fmt.Errorf("create download key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return issued, nil
}

// RedeemKey consumes a download key. The used flag is flipped with a
// conditional UPDATE, so however many redemptions of the same key race,
// exactly one proceeds; the rest observe ErrKeyAlreadyUsed.
//
// Expired keys are rejected but not deleted, and no failure path
// re-credits the token the key was issued against.
func RedeemKey(db *gorm.DB, secret string) (*Redemption, error) {
	var key DownloadKey
	if err := db.Where("secret = ?", secret).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup download key: %w", err)
	}

	if key.Used {
		return nil, ErrKeyAlreadyUsed
	}
	if !time.Now().Before(key.ExpiresAt) {
		return nil, ErrKeyExpired
	}

	res := db.Model(&DownloadKey{}).
		Where("id = ? AND used = ?", key.ID, false).
		Update("used", true)
	if res.Error != nil {
		return nil, fmt.Errorf("consume download key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race against a concurrent redemption.
		return nil, ErrKeyAlreadyUsed
	}

	var file File
	if err := db.First(&file, key.FileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("resolve file for key: %w", err)
	}

	return &Redemption{FileName: file.Title, SourceURL: file.SourceURL}, nil
}
