// Package webhook delivers best-effort event notifications to
// registered HTTP targets. Deliveries run off the request path and
// never fail or delay the operation that produced the event.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "tokengate/internal/db"
)

// Event names that can trigger webhooks. A webhook registered with
// event type "all" receives every event.
const (
	EventUserRegistered      = "user.registered"
	EventUserLogin           = "user.login"
	EventTokenUsed           = "token.used"
	EventSubscriptionUpdated = "subscription.updated"
)

// envelope is the JSON body posted to every target.
type envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatcher fans events out to all matching active webhooks.
type Dispatcher struct {
	db     *gorm.DB
	client *http.Client
}

// NewDispatcher builds a dispatcher with a bounded delivery timeout so
// a slow target cannot pile up goroutines indefinitely.
func NewDispatcher(db *gorm.DB) *Dispatcher {
	return &Dispatcher{
		db:     db,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Dispatch sends the event to every matching target in the background
// and returns immediately. Each delivery is logged as a webhook_logs
// row, success or failure.
func (d *Dispatcher) Dispatch(event string, payload any) {
	go d.deliver(event, payload)
}

func (d *Dispatcher) deliver(event string, payload any) {
	var hooks []dbpkg.Webhook
	if err := d.db.Where("active = ? AND (event_type = ? OR event_type = ?)", true, event, "all").Find(&hooks).Error; err != nil {
		log.Printf("webhook lookup error for %s: %v", event, err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		log.Printf("webhook payload marshal error for %s: %v", event, err)
		return
	}

	for _, hook := range hooks {
		d.post(hook, event, body)
	}
}

func (d *Dispatcher) post(hook dbpkg.Webhook, event string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		d.logDelivery(hook, event, "failed", 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Signature(hook.SecretKey, body))

	resp, err := d.client.Do(req)
	if err != nil {
		d.logDelivery(hook, event, "failed", 0, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logDelivery(hook, event, "failed", resp.StatusCode, "")
		return
	}
	d.logDelivery(hook, event, "success", resp.StatusCode, "")
}

func (d *Dispatcher) logDelivery(hook dbpkg.Webhook, event, status string, code int, errMsg string) {
	if len(errMsg) > 255 {
		errMsg = errMsg[:255]
	}
	entry := &dbpkg.WebhookLog{
		WebhookID:    hook.ID,
		EventType:    event,
		Status:       status,
		ResponseCode: code,
		ErrorMessage: errMsg,
	}
	if err := d.db.Create(entry).Error; err != nil {
		log.Printf("webhook log write error (hook %d): %v", hook.ID, err)
	}
}

// Signature computes the hex HMAC-SHA256 of the payload under the
// webhook's secret key. Receivers recompute it to verify authenticity.
func Signature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
