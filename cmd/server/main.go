package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"room-panel/internal/api"
	"room-panel/internal/config"
	"room-panel/internal/db"
	"room-panel/internal/repository"
	"room-panel/internal/services/broadcast"
	"room-panel/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function wires:
1. The document store (JSON file or postgres)
2. The change-channel hub, optionally relayed through Redis across replicas
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
*/

// revisionPrunePeriod is how often the postgres revision log is trimmed.
const revisionPrunePeriod = 10 * time.Minute

func main() {
	log.Println("🚀 Starting room panel server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("room-panel", cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store api.DocumentStore
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()

		gormStore := repository.NewGormStore(database.DB)
		go pruneRevisions(ctx, gormStore, cfg.RevisionsKeep)
		store = gormStore
	default:
		store = repository.NewFileStore(cfg.DBPath)
	}

	hub := broadcast.NewHub()
	hub.Start()

	var notifier api.Notifier = hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️  Could not connect to Redis at %s: %v (will keep retrying)", cfg.RedisAddr, err)
		}

		relay := broadcast.NewRedisRelay(rdb, cfg.RedisChannel, hub)
		go runRelay(ctx, relay)
		notifier = relay
	}

	wsHandler := broadcast.NewWebSocketHandler(hub, store)
	handler := api.NewHandler(store, notifier, wsHandler, cfg.MaxBodyBytes)
	router := api.SetupRoutes(handler, api.RouteOptions{
		StaticDir:     cfg.StaticDir,
		AdminPassword: cfg.AdminPassword,
	})

	addr := cfg.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   GET  /api/data   - Current document")
		log.Printf("   PUT  /api/data   - Replace document")
		log.Printf("   GET  /ws         - Change channel")
		log.Printf("   GET  /, /admin   - Panel UI from %s", cfg.StaticDir)
		if cfg.AdminPassword == "" {
			log.Printf("⚠️  ADMIN_PASSWORD not set, writes are unauthenticated")
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Learning: This closes all active WebSocket connections gracefully
	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
}

// runRelay resubscribes until ctx ends.
func runRelay(ctx context.Context, relay *broadcast.RedisRelay) {
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("⚠️  Redis relay stopped: %v (retrying in 5s)", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func pruneRevisions(ctx context.Context, store *repository.GormStore, keep int) {
	ticker := time.NewTicker(revisionPrunePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.PruneRevisions(ctx, keep)
			if err != nil {
				log.Printf("⚠️  Failed to prune revisions: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("  Pruned %d old revisions", deleted)
			}
		}
	}
}
