package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/mailsink"
)

// mail-sink accepts what the smtp transport sends in development and keeps
// the last messages in memory.
func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config(cfg.Logging))
	log.Info().Msg("starting mail sink")

	mailbox := mailsink.NewMailbox(cfg.MailSink.Capacity)
	backend := mailsink.NewBackend(mailbox, cfg.MailSink, log)
	s := mailsink.NewServer(backend, cfg.MailSink)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", s.Addr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", s.Addr).Msg("mail sink listening")
		if err := s.Serve(ln); err != nil {
			log.Error().Err(err).Msg("mail sink error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Int("captured", mailbox.Len()).Msg("shutting down mail sink")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mail sink shutdown error")
	}
}
