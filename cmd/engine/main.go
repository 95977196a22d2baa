package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"backbee/engine/internal/cache"
	"backbee/engine/internal/config"
	"backbee/engine/internal/content"
	"backbee/engine/internal/engine"
	"backbee/engine/internal/icon"
	"backbee/engine/internal/listener"
	"backbee/engine/internal/store"
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

	registry := content.NewRegistry()
	contents := store.NewContentStore(db, registry)
	revisions := store.NewRevisionStore(db, contents)
	pageStore := store.NewPageStore(db)
	indexation := store.NewIndexationStore(db, store.DriverName)

	if dropped, err := revisions.DeleteOrphans(ctx); err != nil {
		log.Printf("WARNING: orphan revision cleanup failed: %v", err)
	} else if dropped > 0 {
		log.Printf("dropped %d orphan revision rows", dropped)
	}

	var renderCache *cache.RenderCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		renderCache, err = cache.NewRenderCache(cfg.RedisURL, cfg.RenderCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer renderCache.Close()
		log.Printf("render cache enabled")
	}

	var invalidator listener.Invalidator
	if renderCache != nil {
		invalidator = renderCache
	}
	events := listener.New(indexation, invalidator, pageStore)

	manager := engine.NewManager(contents, revisions, pageStore, events,
		engine.UniformToken(cfg.UniformIdentity))

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		iconizer, err := icon.New(icon.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Expiry:    cfg.IconExpiry,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		manager.WithIconizer(iconizer)
		log.Printf("image presigning enabled for bucket %s", cfg.MinioBucket)
	}

	log.Printf("content engine ready, %d content types registered", len(registry.Types()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")
}
