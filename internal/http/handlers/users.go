package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "tokengate/internal/db"
	"tokengate/internal/webhook"
)

// tokenPlans maps plan ids to their daily token allotment.
var tokenPlans = map[string]int{
	"free":      0,
	"basic":     3,
	"pro":       10,
	"unlimited": 100,
}

const subscriptionPeriod = 30 * 24 * time.Hour

// Me returns the authenticated user without credential fields.
func Me() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		jsonResponse(ctx, safeUser(user))
	}
}

// Plans lists the available subscription plans.
func Plans() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, map[string]any{"plans": tokenPlans})
	}
}

type updateSubscriptionRequest struct {
	PlanID string `json:"planId"`
}

// UpdateSubscription switches the user to a plan, granting the plan's
// full daily allotment immediately. Paid plans run for 30 days; the
// scheduler rolls them back once expired.
func UpdateSubscription(db *gorm.DB, hooks *webhook.Dispatcher) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req updateSubscriptionRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		tokensPerDay, known := tokenPlans[req.PlanID]
		if !known {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid plan ID")
			return
		}

		var expiresAt *time.Time
		if req.PlanID != "free" {
			t := time.Now().Add(subscriptionPeriod)
			expiresAt = &t
		}

		updates := map[string]any{
			"subscription":            req.PlanID,
			"tokens_per_day":          tokensPerDay,
			"tokens_remaining":        tokensPerDay,
			"subscription_expires_at": expiresAt,
		}
		if err := db.Model(&dbpkg.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			log.Printf("subscription update error for user %d: %v", user.ID, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update subscription")
			return
		}

		hooks.Dispatch(webhook.EventSubscriptionUpdated, map[string]any{
			"userId":       user.ID,
			"email":        user.Email,
			"subscription": req.PlanID,
			"tokensPerDay": tokensPerDay,
		})

		jsonResponse(ctx, map[string]any{
			"message":         "subscription updated",
			"subscription":    req.PlanID,
			"tokensPerDay":    tokensPerDay,
			"tokensRemaining": tokensPerDay,
			"expiresAt":       expiresAt,
		})
	}
}
