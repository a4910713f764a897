package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/storage"
)

func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	batchSize := flag.Int("batch-size", 500, "messages rebuilt per transaction")
	migrate := flag.Bool("migrate", false, "apply database migrations first")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config(cfg.Logging))

	if *migrate {
		if err := storage.Migrate(cfg.Database.URL, log); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	start := time.Now()
	n, err := event.NewStore(db.Pool, log).SyncProjection(ctx, *batchSize)
	if err != nil {
		log.Error().Err(err).Int("synced", n).Msg("projection sync failed")
		db.Close()
		os.Exit(1)
	}

	log.Info().
		Int("synced", n).
		Int("batch_size", *batchSize).
		Dur("duration", time.Since(start)).
		Msg("projection sync completed")
}
