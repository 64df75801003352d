package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound means the user id does not resolve to a row.
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientBalance means the user has no tokens remaining.
	// Terminal until the next replenishment or a plan upgrade.
	ErrInsufficientBalance = errors.New("no tokens remaining")
)

// DebitOne atomically spends one token for the user: decrements
// tokens_remaining and increments tokens_used in a single conditional
// UPDATE. The balance check and the write are one statement, so two
// concurrent debits can never both pass a positive-balance check and
// drive the balance negative.
//
// Returns the balance after the debit.
func DebitOne(db *gorm.DB, userID uint) (int, error) {
	res := db.Model(&User{}).
		Where("id = ? AND tokens_remaining > 0", userID).
		Updates(map[string]any{
			"tokens_remaining": gorm.Expr("tokens_remaining - 1"),
			"tokens_used":      gorm.Expr("tokens_used + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("debit token: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Either the user does not exist or the balance is zero;
		// distinguish the two for the caller.
		var count int64
		if err := db.Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("debit token: %w", err)
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, ErrInsufficientBalance
	}

	var user User
	if err := db.Select("tokens_remaining").First(&user, userID).Error; err != nil {
		return 0, fmt.Errorf("debit token: %w", err)
	}
	return user.TokensRemaining, nil
}
