package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/config"
	"warungpos/backend/internal/httpapi"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
	"warungpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var (
		repo    store.Repository
		closers []io.Closer
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[server] postgres: %v", err)
		}
		if err := pg.Setup(ctx); err != nil {
			log.Fatalf("[server] postgres setup: %v", err)
		}
		repo = pg
		closers = append(closers, pg)
		log.Println("[server] using postgres store")
	} else {
		repo = memory.NewSeeded()
		log.Println("[server] DATABASE_URL not set, using seeded in-memory store")
	}

	var productCache cache.ProductCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ProductCacheTTL)
		if err != nil {
			log.Printf("[server] WARN: redis unavailable, product cache disabled: %v", err)
		} else {
			productCache = redisCache
			closers = append(closers, redisCache)
			log.Println("[server] product cache backed by redis")
		}
	}

	svc := service.New(repo, productCache)
	auth := httpapi.NewAuthManager(repo, cfg.AuthSecret, cfg.AccessTokenTTL)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] listen: %v", err)
		}
	case sig := <-stop:
		log.Printf("[server] received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] WARN: shutdown: %v", err)
	}
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			log.Printf("[server] WARN: close: %v", err)
		}
	}
	log.Println("[server] stopped")
}
