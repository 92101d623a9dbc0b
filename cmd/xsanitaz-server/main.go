package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"xsanitaz-backend/internal/config"
	"xsanitaz-backend/internal/db"
	"xsanitaz-backend/internal/observability"
	"xsanitaz-backend/internal/provider"
	"xsanitaz-backend/internal/relay"
	"xsanitaz-backend/internal/server"
	"xsanitaz-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	observability.SetLevel(cfg.LogLevel)
	logger := observability.WithFields("service", "xsanitaz-relay")

	ctx := context.Background()
	detector, closeDetector, err := provider.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create provider: %v", err)
	}
	defer closeDetector()

	failures, closeStore := newFailureLog(cfg)
	defer closeStore()

	var limiter *server.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limiter = server.NewRateLimiter(rdb, cfg.RateLimitQPS)
		logger.Info("rate limiting enabled", "redis", cfg.RedisAddr, "qps", cfg.RateLimitQPS)
	}

	svc := relay.NewService(detector, relay.Options{
		Timeout:          cfg.UpstreamTimeout,
		DefaultSessionID: cfg.DefaultSessionID,
		Attachments: relay.AttachmentPolicy{
			MaxBytes:     cfg.MaxAttachmentBytes,
			AllowedTypes: cfg.AllowedAttachmentTypes,
		},
		Recorder: failures,
	})
	s := server.NewServer(cfg, svc, limiter, failures)

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("XSanitaz relay listening", "addr", addr, "provider", detector.Name())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// newFailureLog uses Postgres when DB_URL is set and falls back to memory.
func newFailureLog(cfg config.Config) (store.FailureLog, func()) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryFailureLog(100), func() {}
	}
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: database unavailable, keeping failures in memory: %v", err)
		return store.NewMemoryFailureLog(100), func() {}
	}
	if err := database.Migrate(); err != nil {
		log.Printf("warning: migrations failed, keeping failures in memory: %v", err)
		database.Close()
		return store.NewMemoryFailureLog(100), func() {}
	}
	return store.NewDatabaseFailureLog(database), func() { database.Close() }
}
