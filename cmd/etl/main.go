package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/config"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/etl"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/logger"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/processors"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input file (JSON array, JSONL, or plain log)")
		outputFile = flag.String("output", "", "Output file (defaults to <input>.anonymized)")
		auditFile  = flag.String("audit", "", "Parquet audit trail path (empty disables audit)")
		batchSize  = flag.Int("batch-size", 500, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		persist    = flag.Bool("persist", false, "Persist pseudonym mappings after the run")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input snapshot.json --audit audit.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input cluster.log --output cluster.anon.log --workers 8\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting batch anonymization",
		zap.String("input", *inputFile),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	output := *outputFile
	if output == "" {
		output = defaultOutputPath(*inputFile)
	}

	manager := pseudonym.NewManager(cfg.Anonymizer.HashSalt, log.WithComponent("pseudonym").Logger)
	eng := engine.New(manager, log.WithComponent("engine").Logger)
	registry := processors.NewRegistry(eng, log.WithComponent("processors").Logger)

	opts := engine.Options{
		EnablePseudonyms:  cfg.Anonymizer.EnablePseudonyms,
		PreserveStructure: cfg.Anonymizer.PreserveStructure,
		MaxProcessingTime: cfg.Anonymizer.MaxProcessingTime,
		HashSalt:          cfg.Anonymizer.HashSalt,
	}

	etlConfig := etl.DefaultConfig()
	etlConfig.BatchSize = *batchSize
	etlConfig.WorkerCount = *workers
	etlConfig.WriteAudit = *auditFile != ""

	pipeline := etl.NewPipeline(registry, eng, etlConfig, opts, log.WithComponent("etl").Logger)

	result, err := pipeline.ProcessFile(ctx, *inputFile, output, *auditFile)
	if err != nil {
		log.Fatal("Batch anonymization failed", zap.Error(err))
	}

	log.Info("Batch anonymization completed",
		zap.String("input", *inputFile),
		zap.String("output", output),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("partial", result.Partial),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("anonymize_time", result.AnonymizeTime),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	if *persist {
		persistMappings(cfg, log, manager)
	}
}

// defaultOutputPath derives the output name from the input, keeping the
// extension so format detection on the output matches the input.
func defaultOutputPath(input string) string {
	if idx := strings.LastIndex(input, "."); idx > 0 {
		return input[:idx] + ".anonymized" + input[idx:]
	}
	return input + ".anonymized"
}

// persistMappings saves the run's pseudonym table so later runs map the
// same originals to the same pseudonyms.
func persistMappings(cfg *config.Config, log *logger.Logger, manager *pseudonym.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mappings := manager.Export()
	if len(mappings) == 0 {
		return
	}

	if cfg.Mappings.Store.Enabled {
		db, err := store.NewMappingStore(cfg.Mappings.Store, log.WithComponent("store").Logger)
		if err != nil {
			log.Error("Failed to connect mapping store", zap.Error(err))
		} else {
			defer db.Close()
			if result, err := db.SaveAll(ctx, mappings); err != nil {
				log.Error("Failed to persist mappings", zap.Error(err))
			} else {
				log.Info("Persisted mappings",
					zap.Int64("inserted", result.Inserted),
					zap.Int64("skipped", result.Skipped))
			}
		}
	}

	if cfg.Mappings.Cache.Enabled {
		cache, err := store.NewMappingCache(cfg.Mappings.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Error("Failed to connect mapping cache", zap.Error(err))
			return
		}
		defer cache.Close()
		if err := cache.PutBatch(ctx, mappings); err != nil {
			log.Warn("Failed to warm mapping cache", zap.Error(err))
		}
	}
}
