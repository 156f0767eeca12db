package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/reviewbot-dev/reviewbot/internal/config"
	"github.com/reviewbot-dev/reviewbot/internal/daemon"
	"github.com/reviewbot-dev/reviewbot/internal/forge"
	"github.com/reviewbot-dev/reviewbot/internal/quota"
	"github.com/reviewbot-dev/reviewbot/internal/reviewer"
	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/version"
)

func main() {
	// Handle version command before anything else (for CI testing)
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("reviewbotd %s\n", version.Version)
		return
	}

	var (
		dbPath     = flag.String("db", storage.DefaultDBPath(), "path to sqlite database")
		configPath = flag.String("config", config.GlobalConfigPath(), "path to config file")
		addr       = flag.String("addr", "", "server address (overrides config)")
		workers    = flag.Int("workers", 0, "number of workers (overrides config)")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting reviewbotd...")

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}

	// Apply flag overrides
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}

	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Database: %s", *dbPath)

	counter, cleanup, err := openCounter(db, cfg)
	if err != nil {
		log.Fatalf("Failed to open rate limit backend: %v", err)
	}
	defer cleanup()

	fetcher := forge.NewGitHubFetcher(cfg.ForgeBaseURL)
	rev := reviewer.NewOpenAIReviewer(cfg.ReviewerBaseURL, cfg.ReviewerAPIKey, cfg.ReviewerModel)

	server := daemon.NewServer(db, cfg, counter, fetcher, rev)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		if err := server.Stop(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openCounter selects the rate limit backend: SQLite in the job
// database by default, PostgreSQL when configured for multi-node
// deployments.
func openCounter(db *storage.DB, cfg *config.Config) (quota.Counter, func(), error) {
	switch cfg.QuotaBackend {
	case "", "sqlite":
		return quota.NewSQLiteCounter(db), func() {}, nil
	case "postgres":
		pc, err := quota.NewPostgresCounter(context.Background(), cfg.QuotaPostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pc, pc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown quota backend %q", cfg.QuotaBackend)
	}
}
