package handlers

import (
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"

	dbpkg "tokengate/internal/db"
	httpctx "tokengate/internal/http/ctx"
	"tokengate/internal/webhook"
)

func TestUpdateSubscriptionGrantsAllotment(t *testing.T) {
	gdb := openTestDB(t)
	user := seedPlanUser(t, gdb)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBodyString(`{"planId":"pro"}`)
	httpctx.SetUser(&ctx, user)

	UpdateSubscription(gdb, webhook.NewDispatcher(gdb))(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	var reloaded dbpkg.User
	if err := gdb.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.Subscription != "pro" || reloaded.TokensPerDay != 10 || reloaded.TokensRemaining != 10 {
		t.Fatalf("plan not applied: sub=%s perDay=%d remaining=%d",
			reloaded.Subscription, reloaded.TokensPerDay, reloaded.TokensRemaining)
	}
	if reloaded.SubscriptionExpiresAt == nil {
		t.Fatalf("paid plan has no expiry")
	}
}

func TestUpdateSubscriptionFreeClearsExpiry(t *testing.T) {
	gdb := openTestDB(t)
	user := seedPlanUser(t, gdb)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBodyString(`{"planId":"free"}`)
	httpctx.SetUser(&ctx, user)

	UpdateSubscription(gdb, webhook.NewDispatcher(gdb))(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}

	var reloaded dbpkg.User
	if err := gdb.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.SubscriptionExpiresAt != nil {
		t.Fatalf("free plan kept an expiry timestamp")
	}
}

func TestUpdateSubscriptionUnknownPlan(t *testing.T) {
	gdb := openTestDB(t)
	user := seedPlanUser(t, gdb)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBodyString(`{"planId":"platinum"}`)
	httpctx.SetUser(&ctx, user)

	UpdateSubscription(gdb, webhook.NewDispatcher(gdb))(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestMeStripsCredentials(t *testing.T) {
	gdb := openTestDB(t)
	user := seedPlanUser(t, gdb)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	httpctx.SetUser(&ctx, user)

	Me()(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}

	var body map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["email"] != user.Email {
		t.Fatalf("unexpected email: %v", body["email"])
	}
	for _, k := range []string{"passwordHash", "PasswordHash"} {
		if _, exposed := body[k]; exposed {
			t.Fatalf("response leaks %s", k)
		}
	}
}

func TestPlansListsAllPlans(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)

	Plans()(&ctx)

	var body struct {
		Plans map[string]int `json:"plans"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Plans["pro"] != 10 || body.Plans["free"] != 0 {
		t.Fatalf("unexpected plans: %v", body.Plans)
	}
}
