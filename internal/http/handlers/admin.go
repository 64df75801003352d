package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "tokengate/internal/db"
	"tokengate/internal/webhook"
)

// ListUsers returns every account, admin only.
func ListUsers(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var users []dbpkg.User
		if err := db.Order("id").Find(&users).Error; err != nil {
			log.Printf("admin user list error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to retrieve users")
			return
		}

		out := make([]map[string]any, 0, len(users))
		for i := range users {
			out = append(out, safeUser(&users[i]))
		}
		jsonResponse(ctx, out)
	}
}

type adminUserUpdate struct {
	Name                  *string    `json:"name"`
	Email                 *string    `json:"email"`
	Subscription          *string    `json:"subscription"`
	Active                *bool      `json:"active"`
	TokensPerDay          *int       `json:"tokensPerDay"`
	TokensRemaining       *int       `json:"tokensRemaining"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt"`
}

// UpdateUser lets an admin edit account and entitlement fields. Only
// fields present in the body are changed.
func UpdateUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid user ID is required")
			return
		}

		var req adminUserUpdate
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		updates := map[string]any{}
		if req.Name != nil {
			updates["name"] = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			updates["email"] = strings.ToLower(strings.TrimSpace(*req.Email))
		}
		if req.Subscription != nil {
			updates["subscription"] = *req.Subscription
		}
		if req.Active != nil {
			updates["active"] = *req.Active
		}
		if req.TokensPerDay != nil {
			updates["tokens_per_day"] = *req.TokensPerDay
		}
		if req.TokensRemaining != nil {
			updates["tokens_remaining"] = *req.TokensRemaining
		}
		if req.SubscriptionExpiresAt != nil {
			updates["subscription_expires_at"] = *req.SubscriptionExpiresAt
		}
		if len(updates) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no fields to update")
			return
		}

		res := db.Model(&dbpkg.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			log.Printf("admin user update error for %d: %v", id, res.Error)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update user")
			return
		}
		if res.RowsAffected == 0 {
			errResponse(ctx, fasthttp.StatusNotFound, "user not found")
			return
		}

		var user dbpkg.User
		if err := db.First(&user, id).Error; err != nil {
			log.Printf("admin user reload error for %d: %v", id, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update user")
			return
		}
		jsonResponse(ctx, safeUser(&user))
	}
}

// DeleteUser removes an account. Download keys and webhook logs are
// kept; they reference the user by id only.
func DeleteUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid user ID is required")
			return
		}

		res := db.Delete(&dbpkg.User{}, id)
		if res.Error != nil {
			log.Printf("admin user delete error for %d: %v", id, res.Error)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to delete user")
			return
		}
		if res.RowsAffected == 0 {
			errResponse(ctx, fasthttp.StatusNotFound, "user not found")
			return
		}

		jsonResponse(ctx, map[string]any{"message": "user deleted"})
	}
}

// ListWebhooks returns registered webhook targets without their secrets.
func ListWebhooks(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var hooks []dbpkg.Webhook
		if err := db.Order("created_at DESC").Find(&hooks).Error; err != nil {
			log.Printf("webhook list error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to retrieve webhooks")
			return
		}

		out := make([]map[string]any, 0, len(hooks))
		for _, h := range hooks {
			out = append(out, map[string]any{
				"id":        h.ID,
				"name":      h.Name,
				"url":       h.URL,
				"eventType": h.EventType,
				"active":    h.Active,
				"createdBy": h.CreatedBy,
				"createdAt": h.CreatedAt,
			})
		}
		jsonResponse(ctx, out)
	}
}

// GetWebhook returns one target with its recent delivery log.
func GetWebhook(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid webhook ID is required")
			return
		}

		var hook dbpkg.Webhook
		if err := db.First(&hook, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "webhook not found")
				return
			}
			log.Printf("webhook lookup error for %d: %v", id, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to retrieve webhook")
			return
		}

		var logs []dbpkg.WebhookLog
		if err := db.Where("webhook_id = ?", hook.ID).Order("created_at DESC").Limit(20).Find(&logs).Error; err != nil {
			log.Printf("webhook log lookup error for %d: %v", id, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to retrieve webhook")
			return
		}

		recent := make([]map[string]any, 0, len(logs))
		for _, entry := range logs {
			recent = append(recent, map[string]any{
				"id":           entry.ID,
				"eventType":    entry.EventType,
				"status":       entry.Status,
				"responseCode": entry.ResponseCode,
				"errorMessage": entry.ErrorMessage,
				"createdAt":    entry.CreatedAt,
			})
		}

		jsonResponse(ctx, map[string]any{
			"id":        hook.ID,
			"name":      hook.Name,
			"url":       hook.URL,
			"eventType": hook.EventType,
			"active":    hook.Active,
			"createdBy": hook.CreatedBy,
			"createdAt": hook.CreatedAt,
			"logs":      recent,
		})
	}
}

type createWebhookRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	EventType string `json:"eventType"`
}

var webhookEvents = map[string]bool{
	"all":                            true,
	webhook.EventUserRegistered:      true,
	webhook.EventUserLogin:           true,
	webhook.EventTokenUsed:           true,
	webhook.EventSubscriptionUpdated: true,
}

// CreateWebhook registers a notification target. The signing secret is
// generated server-side and returned only in this response.
func CreateWebhook(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req createWebhookRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		req.URL = strings.TrimSpace(req.URL)
		if req.EventType == "" {
			req.EventType = "all"
		}
		if req.Name == "" || !strings.HasPrefix(req.URL, "http") {
			errResponse(ctx, fasthttp.StatusBadRequest, "name and an http(s) url are required")
			return
		}
		if !webhookEvents[req.EventType] {
			errResponse(ctx, fasthttp.StatusBadRequest, "unknown event type")
			return
		}

		secret, err := generateWebhookSecret()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to create webhook")
			return
		}

		hook := &dbpkg.Webhook{
			Name:      req.Name,
			URL:       req.URL,
			EventType: req.EventType,
			SecretKey: secret,
			Active:    true,
			CreatedBy: user.ID,
		}
		if err := db.Create(hook).Error; err != nil {
			log.Printf("webhook create error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to create webhook")
			return
		}

		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, map[string]any{
			"id":        hook.ID,
			"name":      hook.Name,
			"url":       hook.URL,
			"eventType": hook.EventType,
			"secretKey": secret,
		})
	}
}

type updateWebhookRequest struct {
	Name      *string `json:"name"`
	URL       *string `json:"url"`
	EventType *string `json:"eventType"`
	Active    *bool   `json:"active"`
}

// UpdateWebhook edits a webhook target. The secret is rotated through
// RegenerateWebhookSecret, not here.
func UpdateWebhook(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid webhook ID is required")
			return
		}

		var req updateWebhookRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		updates := map[string]any{}
		if req.Name != nil {
			updates["name"] = strings.TrimSpace(*req.Name)
		}
		if req.URL != nil {
			updates["url"] = strings.TrimSpace(*req.URL)
		}
		if req.EventType != nil {
			if !webhookEvents[*req.EventType] {
				errResponse(ctx, fasthttp.StatusBadRequest, "unknown event type")
				return
			}
			updates["event_type"] = *req.EventType
		}
		if req.Active != nil {
			updates["active"] = *req.Active
		}
		if len(updates) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no fields to update")
			return
		}

		res := db.Model(&dbpkg.Webhook{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			log.Printf("webhook update error for %d: %v", id, res.Error)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update webhook")
			return
		}
		if res.RowsAffected == 0 {
			errResponse(ctx, fasthttp.StatusNotFound, "webhook not found")
			return
		}

		jsonResponse(ctx, map[string]any{"message": "webhook updated"})
	}
}

// RegenerateWebhookSecret replaces a target's signing secret. Like
// creation, the new secret appears only in this response; deliveries
// already in flight keep the old signature.
func RegenerateWebhookSecret(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid webhook ID is required")
			return
		}

		secret, err := generateWebhookSecret()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to regenerate webhook secret")
			return
		}

		res := db.Model(&dbpkg.Webhook{}).Where("id = ?", id).Update("secret_key", secret)
		if res.Error != nil {
			log.Printf("webhook secret rotation error for %d: %v", id, res.Error)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to regenerate webhook secret")
			return
		}
		if res.RowsAffected == 0 {
			errResponse(ctx, fasthttp.StatusNotFound, "webhook not found")
			return
		}

		jsonResponse(ctx, map[string]any{
			"id":        id,
			"secretKey": secret,
			"message":   "webhook secret regenerated",
		})
	}
}

// ListWebhookEvents enumerates the event types a webhook can subscribe
// to, with display names for admin UIs.
func ListWebhookEvents() fasthttp.RequestHandler {
	events := []map[string]any{
		{"id": "all", "name": "All Events"},
		{"id": webhook.EventUserRegistered, "name": "User Registered"},
		{"id": webhook.EventUserLogin, "name": "User Login"},
		{"id": webhook.EventTokenUsed, "name": "Token Used"},
		{"id": webhook.EventSubscriptionUpdated, "name": "Subscription Updated"},
	}
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, map[string]any{"events": events})
	}
}

// DeleteWebhook removes a target. Its delivery logs are kept.
func DeleteWebhook(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := pathID(ctx, "id")
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid webhook ID is required")
			return
		}

		res := db.Delete(&dbpkg.Webhook{}, id)
		if res.Error != nil {
			log.Printf("webhook delete error for %d: %v", id, res.Error)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to delete webhook")
			return
		}
		if res.RowsAffected == 0 {
			errResponse(ctx, fasthttp.StatusNotFound, "webhook not found")
			return
		}

		jsonResponse(ctx, map[string]any{"message": "webhook deleted"})
	}
}

func generateWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func pathID(ctx *fasthttp.RequestCtx, name string) (uint, error) {
	raw, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
