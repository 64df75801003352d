package middleware

import (
	"bytes"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "tokengate/internal/db"
	httpctx "tokengate/internal/http/ctx"
)

// BearerAuth verifies the JWT bearer token, loads the user row it names
// and stores it on the request context. Tokens are HS256 with the user
// id as subject. Inactive accounts are rejected even with a valid token.
func BearerAuth(db *gorm.DB, jwtSecret string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("authentication token required")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid Authorization header")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("empty bearer token")
				return
			}

			userID, err := verifyToken(token, jwtSecret)
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusForbidden)
				ctx.SetBodyString("invalid or expired token")
				return
			}

			var user dbpkg.User
			if err := db.First(&user, userID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.SetStatusCode(fasthttp.StatusUnauthorized)
					ctx.SetBodyString("user not found")
					return
				}
				log.Printf("auth user lookup error: %v", err)
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}

			if !user.Active {
				ctx.SetStatusCode(fasthttp.StatusForbidden)
				ctx.SetBodyString("user account is inactive")
				return
			}

			httpctx.SetUser(ctx, &user)
			next(ctx)
		}
	}
}

func verifyToken(token, secret string) (uint, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, err
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil {
		return 0, errors.New("malformed subject claim")
	}
	return uint(id), nil
}
