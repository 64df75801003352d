package main

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"tokengate/internal/config"
	"tokengate/internal/db"
	"tokengate/internal/http/handlers"
	appmw "tokengate/internal/http/middleware"
	"tokengate/internal/webhook"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatalf("APP_JWT_SECRET is required")
	}

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Fatalf("failed to ensure bootstrap admin: %v", err)
	}

	db.StartReplenishmentWorker(sqlDB, cfg.ReplenishInterval)

	handlers.InitPrometheusMetrics()

	hooks := webhook.NewDispatcher(sqlDB)

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.MetricsHandler())

	auth := appmw.BearerAuth(sqlDB, cfg.JWTSecret)
	admin := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return auth(appmw.AdminOnly(h))
	}

	r.POST("/api/auth/register", handlers.Register(sqlDB, cfg, hooks))
	r.POST("/api/auth/login", handlers.Login(sqlDB, cfg, hooks))

	r.GET("/api/users/me", auth(handlers.Me()))
	r.POST("/api/users/update-subscription", auth(handlers.UpdateSubscription(sqlDB, hooks)))
	r.GET("/api/plans", handlers.Plans())

	r.GET("/api/files", auth(handlers.ListFiles(sqlDB)))
	r.POST("/api/downloads/use-token", auth(handlers.UseToken(sqlDB, cfg, hooks)))

	// Redemption is deliberately unauthenticated: the key is the capability.
	r.GET("/api/downloads/{downloadKey}", handlers.Download(sqlDB, cfg))

	r.GET("/api/admin/users", admin(handlers.ListUsers(sqlDB)))
	r.PUT("/api/admin/users/{id}", admin(handlers.UpdateUser(sqlDB)))
	r.DELETE("/api/admin/users/{id}", admin(handlers.DeleteUser(sqlDB)))

	r.GET("/api/webhooks", admin(handlers.ListWebhooks(sqlDB)))
	r.POST("/api/webhooks", admin(handlers.CreateWebhook(sqlDB)))
	r.GET("/api/webhooks/events/list", admin(handlers.ListWebhookEvents()))
	r.GET("/api/webhooks/{id}", admin(handlers.GetWebhook(sqlDB)))
	r.PUT("/api/webhooks/{id}", admin(handlers.UpdateWebhook(sqlDB)))
	r.DELETE("/api/webhooks/{id}", admin(handlers.DeleteWebhook(sqlDB)))
	r.POST("/api/webhooks/{id}/regenerate-secret", admin(handlers.RegenerateWebhookSecret(sqlDB)))

	handler := handlers.RequestLogger(r.Handler)

	log.Printf("tokengate listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
