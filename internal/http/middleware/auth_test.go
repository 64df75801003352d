package middleware

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbpkg "tokengate/internal/db"
	httpctx "tokengate/internal/http/ctx"
)

const testJWTSecret = "test-secret"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := dbpkg.Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func signTestToken(t *testing.T, userID uint, secret string, ttl time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(int(userID)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return token
}

func runAuth(t *testing.T, gdb *gorm.DB, authHeader string) (*fasthttp.RequestCtx, bool) {
	t.Helper()

	var ctx fasthttp.RequestCtx
	if authHeader != "" {
		ctx.Request.Header.Set("Authorization", authHeader)
	}

	nextCalled := false
	handler := BearerAuth(gdb, testJWTSecret)(func(ctx *fasthttp.RequestCtx) {
		nextCalled = true
	})
	handler(&ctx)
	return &ctx, nextCalled
}

func TestBearerAuthMissingHeader(t *testing.T) {
	gdb := openTestDB(t)

	ctx, nextCalled := runAuth(t, gdb, "")
	if nextCalled {
		t.Fatalf("handler ran without credentials")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthMalformedHeader(t *testing.T) {
	gdb := openTestDB(t)

	ctx, nextCalled := runAuth(t, gdb, "Token abc")
	if nextCalled {
		t.Fatalf("handler ran with malformed header")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthBadSignature(t *testing.T) {
	gdb := openTestDB(t)

	token := signTestToken(t, 1, "wrong-secret", time.Hour)
	ctx, nextCalled := runAuth(t, gdb, "Bearer "+token)
	if nextCalled {
		t.Fatalf("handler ran with a badly signed token")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthExpiredToken(t *testing.T) {
	gdb := openTestDB(t)

	token := signTestToken(t, 1, testJWTSecret, -time.Hour)
	ctx, nextCalled := runAuth(t, gdb, "Bearer "+token)
	if nextCalled {
		t.Fatalf("handler ran with an expired token")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthUnknownUser(t *testing.T) {
	gdb := openTestDB(t)

	token := signTestToken(t, 42, testJWTSecret, time.Hour)
	ctx, nextCalled := runAuth(t, gdb, "Bearer "+token)
	if nextCalled {
		t.Fatalf("handler ran for a nonexistent user")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthInactiveUser(t *testing.T) {
	gdb := openTestDB(t)

	user := &dbpkg.User{Name: "u", Email: "u@example.com", PasswordHash: "x", Active: false}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	token := signTestToken(t, user.ID, testJWTSecret, time.Hour)
	ctx, nextCalled := runAuth(t, gdb, "Bearer "+token)
	if nextCalled {
		t.Fatalf("handler ran for an inactive user")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
}

func TestBearerAuthValidToken(t *testing.T) {
	gdb := openTestDB(t)

	user := &dbpkg.User{Name: "u", Email: "u@example.com", PasswordHash: "x", Active: true}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	token := signTestToken(t, user.ID, testJWTSecret, time.Hour)
	ctx, nextCalled := runAuth(t, gdb, "Bearer "+token)
	if !nextCalled {
		t.Fatalf("handler did not run: status %d", ctx.Response.StatusCode())
	}

	got, ok := httpctx.UserFromCtx(ctx)
	if !ok || got.ID != user.ID {
		t.Fatalf("authenticated user missing from context")
	}
}

func TestAdminOnlyRejectsNonAdmin(t *testing.T) {
	var ctx fasthttp.RequestCtx
	httpctx.SetUser(&ctx, &dbpkg.User{ID: 1, Active: true, IsAdmin: false})

	nextCalled := false
	AdminOnly(func(ctx *fasthttp.RequestCtx) { nextCalled = true })(&ctx)

	if nextCalled {
		t.Fatalf("non-admin passed the admin gate")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
}

func TestAdminOnlyAllowsAdmin(t *testing.T) {
	var ctx fasthttp.RequestCtx
	httpctx.SetUser(&ctx, &dbpkg.User{ID: 1, Active: true, IsAdmin: true})

	nextCalled := false
	AdminOnly(func(ctx *fasthttp.RequestCtx) { nextCalled = true })(&ctx)

	if !nextCalled {
		t.Fatalf("admin was rejected: status %d", ctx.Response.StatusCode())
	}
}
