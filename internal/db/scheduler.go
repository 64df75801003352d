package db

import (
	"log"
	"time"

	"gorm.io/gorm"
)

// RunReplenishmentOnce performs a single scheduler tick: the token
// reset pass and the subscription expiry pass. The two are independent;
// a failure in one does not block the other, and both are safe to rerun
// since they act on current state, not deltas.
func RunReplenishmentOnce(db *gorm.DB) {
	if err := resetTokens(db); err != nil {
		log.Printf("token reset pass error: %v", err)
	}
	if err := rollbackExpiredSubscriptions(db); err != nil {
		log.Printf("subscription expiry pass error: %v", err)
	}
}

// resetTokens restores every user's remaining tokens to their daily
// allotment, unless the auto_refresh_tokens setting is off.
func resetTokens(db *gorm.DB) error {
	enabled, err := SettingValue(db, SettingAutoRefreshTokens, "true")
	if err != nil {
		return err
	}
	if enabled != "true" {
		return nil
	}

	res := db.Model(&User{}).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Update("tokens_remaining", gorm.Expr("tokens_per_day"))
	if res.Error != nil {
		return res.Error
	}
	log.Printf("tokens refreshed for %d users", res.RowsAffected)
	return nil
}

// rollbackExpiredSubscriptions moves every user with a lapsed
// subscription back to the free plan in one bulk UPDATE, so a failure
// never leaves half the expired set rolled back.
func rollbackExpiredSubscriptions(db *gorm.DB) error {
	res := db.Model(&User{}).
		Where("subscription_expires_at IS NOT NULL AND subscription_expires_at < ?", time.Now()).
		Updates(map[string]any{
			"subscription":            "free",
			"tokens_per_day":          0,
			"tokens_remaining":        0,
			"subscription_expires_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("rolled back %d expired subscriptions to free", res.RowsAffected)
	}
	return nil
}

// StartReplenishmentWorker launches a background goroutine that runs
// the replenishment tick once at startup and then on the given
// interval. A failed tick is logged and waits for the next one.
func StartReplenishmentWorker(db *gorm.DB, interval time.Duration) {
	go func() {
		RunReplenishmentOnce(db)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			RunReplenishmentOnce(db)
		}
	}()
}
