package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/app"
	"github.com/sulaimanQasimi/cid-sub001/internal/config"
	"github.com/sulaimanQasimi/cid-sub001/internal/history"
	"github.com/sulaimanQasimi/cid-sub001/internal/relay"
	"github.com/sulaimanQasimi/cid-sub001/internal/search"
	"github.com/sulaimanQasimi/cid-sub001/internal/session"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.NarrativesDir, 0o755); err != nil {
		log.Fatalf("failed to create narratives dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.NarrativesDir)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Redis carries refresh tokens and the signaling relay bus. Without it
	// refresh sessions live in Postgres and every signal takes the queue.
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and signal relay")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		bus, err := relay.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis relay connection failed: %v", err)
		}
		defer bus.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, historyService, searchService, bus)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage; live signal relay disabled")
		service = app.New(cfg, dataStore, historyService, searchService, nil)
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CID records API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
