package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/api"
	"github.com/sungwon/govnotify/internal/attachment"
	"github.com/sungwon/govnotify/internal/auth"
	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/delivery"
	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/featureflag"
	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
	"github.com/sungwon/govnotify/internal/scheduler"
	"github.com/sungwon/govnotify/internal/storage"
	"github.com/sungwon/govnotify/internal/transport"
	"github.com/sungwon/govnotify/internal/worker"
)

func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	newKey := flag.Bool("new-client-key", false, "print a new API client key and its bcrypt hash, then exit")
	flag.Parse()

	if *newKey {
		if err := printClientKey(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.Config(cfg.Logging))
	log.Info().Msg("starting API server")

	if *migrate {
		if err := storage.Migrate(cfg.Database.URL, log); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Connect to database
	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("database connection established")

	ready := map[string]api.Pinger{"database": db}
	rdb := newRedis(cfg, log)
	if rdb != nil {
		defer rdb.Close()
		ready["redis"] = api.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	dir := newDirectory(cfg, rdb, log)

	sched, err := scheduler.New(ctx, cfg.Scheduler, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	attachments, err := attachment.New(ctx, cfg.Attachments, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create attachment store")
	}

	events := event.NewStore(db.Pool, log)
	eventLog := event.NewLog(events, log)
	providers := provider.NewStore(db.Pool, provider.DefaultsFromConfig(cfg.Delivery), log)

	transports := transport.NewFactory(attachments, httpclient.New(10*time.Second), log)
	dispatcher := delivery.NewDispatcher(providers, transports, log)

	engine := worker.NewEngine(worker.Deps{
		DB:         db.Pool,
		Directory:  dir,
		Dispatcher: dispatcher,
		Events:     eventLog,
		SMSNotice:  cfg.Delivery.SMSNotice,
		JobTimeout: cfg.Delivery.JobTimeout,
		Log:        log,
	})

	processor := message.NewProcessor(message.ProcessorDeps{
		DB:             db.Pool,
		Scheduler:      sched,
		Profiles:       dir,
		Flags:          featureflag.Static(cfg.Features),
		Events:         eventLog,
		WebhookBaseURL: cfg.Delivery.WebhookBaseURL,
		Log:            log,
	})

	clients, err := auth.NewClients(cfg.API.Clients)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid api.clients configuration")
	}
	var authenticate auth.LookupFunc
	if clients.Len() > 0 {
		authenticate = clients.Lookup
	} else {
		log.Warn().Msg("no api.clients configured; client endpoints are unauthenticated")
	}

	router := api.NewRouter(api.Deps{
		Messages:     processor,
		Jobs:         engine,
		Events:       events,
		Providers:    providers,
		Ready:        ready,
		Authenticate: authenticate,
		Log:          log,
	})

	// Configure HTTP server
	addr := cfg.API.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	// Graceful shutdown with 30-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// newRedis connects the organisation cache client. It returns nil when
// redis is not configured.
func newRedis(cfg *config.Config, log zerolog.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("redis not configured; organisation cache disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newDirectory builds the directory client behind a circuit breaker, cached
// in redis when rdb is set.
func newDirectory(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) *directory.Directory {
	doer := httpclient.NewBreakerDoer(httpclient.New(cfg.Directory.Timeout), "directory", httpclient.BreakerSettings{}, log)
	client := directory.NewClient(cfg.Directory.URL, cfg.Directory.APIKey, doer)
	if rdb == nil {
		return directory.New(client, nil, log)
	}
	return directory.New(client, directory.NewRedisCache(rdb, cfg.Redis.OrganisationTTL), log)
}

func printClientKey() error {
	ck, err := auth.IssueClientKey()
	if err != nil {
		return err
	}
	fmt.Printf("key:      %s\nkey_hash: %s\n", ck.Key, ck.Hash)
	return nil
}
