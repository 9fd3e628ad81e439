package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yegors/wxbench/internal/api"
	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/providers"
	"github.com/yegors/wxbench/internal/runner"
	"github.com/yegors/wxbench/internal/storage/sqlite"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	mode := flag.String("mode", "collect", "Operation mode: collect, score, rollback, or serve")
	rollbackFrom := flag.String("from", "", "Rollback window start (RFC 3339, inclusive)")
	rollbackTo := flag.String("to", "", "Rollback window end (RFC 3339, exclusive)")
	flag.Parse()

	// Provider credentials may live in a local .env file; a missing file is
	// not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wxbench",
		logger.String("version", Version),
		logger.String("mode", *mode),
		logger.String("location", cfg.WxLocation().Name()),
	)

	store, err := sqlite.New(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "collect":
		runCollect(ctx, cfg, store, log)
	case "score":
		runScore(cfg, store, log)
	case "rollback":
		runRollback(cfg, store, log, *rollbackFrom, *rollbackTo)
	case "serve":
		runServe(ctx, cfg, store, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s\n", *mode)
		os.Exit(1)
	}
}

// runCollect executes one ingestion cycle. An already-claimed hour bucket is
// a clean skip, not a failure.
func runCollect(ctx context.Context, cfg *config.Config, store *sqlite.Store, log *logger.Logger) {
	fetchers := providers.NewFetchers(cfg, log)
	run, err := runner.New(cfg, store, fetchers, log).RunCycle(ctx)
	if err != nil {
		var conflict *wx.IdempotencyConflict
		if errors.As(err, &conflict) {
			log.Info("Cycle skipped, hour bucket already ingested")
			return
		}
		log.Error("Ingestion cycle failed", logger.Error(err))
		os.Exit(1)
	}
	if run.Status == wx.RunFailed {
		os.Exit(1)
	}
}

// runScore recomputes all accuracy statistics and prints them as JSON.
func runScore(cfg *config.Config, store *sqlite.Store, log *logger.Logger) {
	records, err := runner.ComputeScores(store, cfg)
	if err != nil {
		log.Error("Failed to compute scores", logger.Error(err))
		os.Exit(1)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		log.Error("Failed to encode scores", logger.Error(err))
		os.Exit(1)
	}
}

// runRollback deletes raw payloads and data points ingested in [from, to),
// the only deletion path in the system.
func runRollback(cfg *config.Config, store *sqlite.Store, log *logger.Logger, fromRaw, toRaw string) {
	if fromRaw == "" || toRaw == "" {
		fmt.Fprintln(os.Stderr, "rollback requires -from and -to (RFC 3339)")
		os.Exit(1)
	}
	from, err := time.Parse(time.RFC3339, fromRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(1)
	}
	to, err := time.Parse(time.RFC3339, toRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		os.Exit(1)
	}
	if !from.Before(to) {
		fmt.Fprintln(os.Stderr, "-from must be earlier than -to")
		os.Exit(1)
	}

	points, payloads, err := store.Rollback(from, to)
	if err != nil {
		log.Error("Rollback failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Rollback complete",
		logger.Int64("data_points_deleted", points),
		logger.Int64("raw_payloads_deleted", payloads))
}

// runServe starts the inspection API and blocks until interrupted.
func runServe(ctx context.Context, cfg *config.Config, store *sqlite.Store, log *logger.Logger) {
	router := api.NewRouter(store, cfg, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}
	log.Info("Server fully stopped")
}
