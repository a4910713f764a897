package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config(cfg.Logging))
	log.Info().Msg("starting scheduler relay")

	if cfg.Scheduler.SQSQueueURL == "" {
		log.Fatal().Msg("scheduler.sqs_queue_url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := scheduler.NewSQSRelay(ctx, cfg.Scheduler, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay")
	}

	if err := relay.Run(ctx); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
}
