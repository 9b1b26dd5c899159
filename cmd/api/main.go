package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spaceforge/api/internal/app"
	"spaceforge/api/internal/blob"
	"spaceforge/api/internal/cache"
	"spaceforge/api/internal/config"
	"spaceforge/api/internal/mirror"
	"spaceforge/api/internal/store"
	"spaceforge/api/internal/version"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var db *sql.DB
	var persistence version.Persistence
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		opened, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer opened.Close()
		db = opened

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		var blobs store.BlobStore
		if strings.TrimSpace(cfg.MinioEndpoint) != "" {
			blobStore, err := blob.New(ctx, blob.Options{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			})
			if err != nil {
				log.Fatalf("object store connection failed: %v", err)
			}
			log.Printf("Offloading version payloads to bucket %s", cfg.MinioBucket)
			blobs = blobStore
		}
		persistence = store.NewPostgresStore(db, blobs)
	} else {
		log.Printf("DATABASE_URL empty, running with in-memory version store")
	}

	versions := version.New(version.Config{MaxVersionsPerSpace: cfg.MaxVersionsPerSpace}, persistence)
	if err := versions.Load(ctx); err != nil {
		log.Fatalf("version store hydration failed: %v", err)
	}

	var snapshots *cache.SnapshotCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		connected, err := cache.NewSnapshotCache(cfg.RedisURL, cfg.SnapshotCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer connected.Close()
		log.Printf("Using Redis snapshot cache")
		snapshots = connected
	}

	var mirrors *mirror.Service
	if strings.TrimSpace(cfg.MirrorsDir) != "" {
		if err := os.MkdirAll(cfg.MirrorsDir, 0o755); err != nil {
			log.Fatalf("failed to create mirrors dir: %v", err)
		}
		mirrors = mirror.New(cfg.MirrorsDir)
	}

	service := app.NewWithBackends(cfg, versions, snapshots, mirrors, db)

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
		log.Printf("Spaceforge API listening on %s", cfg.Addr)
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
