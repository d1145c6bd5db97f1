package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/config"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/logger"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/server"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxmox-mpc-anonymizer %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Proxmox-MPC anonymization service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	manager := pseudonym.NewManager(cfg.Anonymizer.HashSalt, log.WithComponent("pseudonym").Logger)
	eng := engine.New(manager, log.WithComponent("engine").Logger)

	var cache *store.MappingCache
	if cfg.Mappings.Cache.Enabled {
		cache, err = store.NewMappingCache(cfg.Mappings.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect mapping cache", zap.Error(err))
		}
		defer cache.Close()
	}

	var db *store.MappingStore
	if cfg.Mappings.Store.Enabled {
		db, err = store.NewMappingStore(cfg.Mappings.Store, log.WithComponent("store").Logger)
		if err != nil {
			log.Fatal("Failed to connect mapping store", zap.Error(err))
		}
		defer db.Close()
	}

	restoreMappings(cfg, log, manager, cache, db)

	srv, err := server.New(cfg, log, eng, cache, db)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		persistMappings(ctx, log, manager, cache, db)

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// restoreMappings warms the in-memory pseudonym table at startup. The
// durable store wins over the cache; a failed restore is non-fatal because
// the engine can regenerate deterministic pseudonyms from scratch.
func restoreMappings(cfg *config.Config, log *logger.Logger, manager *pseudonym.Manager, cache *store.MappingCache, db *store.MappingStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mappings []pseudonym.Mapping
	var source string
	var err error

	switch {
	case db != nil:
		source = "store"
		mappings, err = db.LoadAll(ctx)
	case cache != nil:
		source = "cache"
		mappings, err = cache.LoadAll(ctx)
	default:
		return
	}

	if err != nil {
		log.Warn("Failed to restore pseudonym mappings", zap.String("source", source), zap.Error(err))
		return
	}

	added := manager.Import(mappings)
	log.Info("Restored pseudonym mappings",
		zap.String("source", source),
		zap.Int("loaded", len(mappings)),
		zap.Int("imported", added),
	)
}

// persistMappings pushes the in-memory table out before shutdown.
func persistMappings(ctx context.Context, log *logger.Logger, manager *pseudonym.Manager, cache *store.MappingCache, db *store.MappingStore) {
	if cache == nil && db == nil {
		return
	}

	mappings := manager.Export()
	if len(mappings) == 0 {
		return
	}

	if db != nil {
		if result, err := db.SaveAll(ctx, mappings); err != nil {
			log.Error("Failed to persist mappings to store", zap.Error(err))
		} else {
			log.Info("Persisted mappings to store",
				zap.Int64("inserted", result.Inserted),
				zap.Int64("skipped", result.Skipped),
			)
		}
	}
	if cache != nil {
		if err := cache.PutBatch(ctx, mappings); err != nil {
			log.Warn("Failed to persist mappings to cache", zap.Error(err))
		}
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8090/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
