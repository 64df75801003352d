package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	dbpkg "tokengate/internal/db"
	httpctx "tokengate/internal/http/ctx"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok || user == nil {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return user, true
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

// errResponse sends a JSON error body with a stable message. Internal
// detail (driver errors, queries) never goes to the client.
func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	jsonResponse(ctx, map[string]any{"message": msg})
}

// safeUser strips credential fields from a user row for API responses.
func safeUser(u *dbpkg.User) map[string]any {
	return map[string]any{
		"id":                    u.ID,
		"name":                  u.Name,
		"email":                 u.Email,
		"isAdmin":               u.IsAdmin,
		"active":                u.Active,
		"subscription":          u.Subscription,
		"tokensPerDay":          u.TokensPerDay,
		"tokensRemaining":       u.TokensRemaining,
		"tokensUsed":            u.TokensUsed,
		"subscriptionExpiresAt": u.SubscriptionExpiresAt,
		"createdAt":             u.CreatedAt,
	}
}
