package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/services/ingest"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	log := logger.New()

	kvDB, err := kvdb.New(log, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open job store: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	service := ingest.New(log, cfg, kvDB)
	stored, err := service.ScrapeAndStore(ctx)
	if err != nil {
		kvDB.Close()
		fmt.Fprintf(os.Stderr, "scrape failed: %s\n", err)
		os.Exit(1)
	}

	if err := kvDB.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close job store: %s\n", err)
		os.Exit(1)
	}

	log.Info("scrape complete", "jobs", stored)
}
