package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tokengate/internal/config"
	dbpkg "tokengate/internal/db"
	"tokengate/internal/webhook"
)

const sessionTokenTTL = 7 * 24 * time.Hour

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func signSessionToken(userID uint, secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(int(userID)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Register creates an account on the free plan and returns a session token.
func Register(db *gorm.DB, cfg *config.Config, hooks *webhook.Dispatcher) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req registerRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.Name == "" || req.Email == "" || len(req.Password) < 8 {
			errResponse(ctx, fasthttp.StatusBadRequest, "name, email and a password of at least 8 characters are required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("register hash error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "registration failed")
			return
		}

		user := &dbpkg.User{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: string(hash),
			Active:       true,
			Subscription: "free",
		}
		// The unique index on email is the only duplicate check, so two
		// racing registrations cannot both pass a pre-check; the loser
		// surfaces here as a translated duplicate-key error.
		if err := db.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				errResponse(ctx, fasthttp.StatusConflict, "email already registered")
				return
			}
			log.Printf("register create error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "registration failed")
			return
		}

		token, err := signSessionToken(user.ID, cfg.JWTSecret)
		if err != nil {
			log.Printf("register token sign error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "registration failed")
			return
		}

		hooks.Dispatch(webhook.EventUserRegistered, map[string]any{
			"userId": user.ID,
			"email":  user.Email,
			"name":   user.Name,
		})

		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, map[string]any{"token": token, "user": safeUser(user)})
	}
}

// Login checks credentials and returns a session token.
func Login(db *gorm.DB, cfg *config.Config, hooks *webhook.Dispatcher) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req loginRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		var user dbpkg.User
		if err := db.Where("email = ?", req.Email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errResponse(ctx, fasthttp.StatusUnauthorized, "invalid email or password")
				return
			}
			log.Printf("login lookup error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "login failed")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			errResponse(ctx, fasthttp.StatusUnauthorized, "invalid email or password")
			return
		}

		if !user.Active {
			errResponse(ctx, fasthttp.StatusForbidden, "user account is inactive")
			return
		}

		token, err := signSessionToken(user.ID, cfg.JWTSecret)
		if err != nil {
			log.Printf("login token sign error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "login failed")
			return
		}

		hooks.Dispatch(webhook.EventUserLogin, map[string]any{
			"userId": user.ID,
			"email":  user.Email,
		})

		jsonResponse(ctx, map[string]any{"token": token, "user": safeUser(&user)})
	}
}
