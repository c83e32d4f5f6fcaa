// Package main is the entry point for the OpsAssist incident service.
// It initializes all components and runs the HTTP server and the
// classification workers until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"opsassist/internal/api"
	"opsassist/internal/banner"
	"opsassist/internal/classifier"
	"opsassist/internal/config"
	"opsassist/internal/incident"
	"opsassist/internal/ingest"
	"opsassist/internal/notification"
	"opsassist/internal/processor"
	"opsassist/internal/queue"
	kafkaqueue "opsassist/internal/queue/kafka"
	memoryqueue "opsassist/internal/queue/memory"
	"opsassist/internal/store"
	memorystor "opsassist/internal/store/memory"
	postgresstor "opsassist/internal/store/postgres"
	redisstor "opsassist/internal/store/redis"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	banner.Fprint(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
		"window_seconds", cfg.Detection.WindowSeconds,
		"threshold", cfg.Detection.Threshold,
		"classifier", cfg.Classifier.Provider,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx, cfg, deps, logger); err != nil {
		logger.Error("opsassist stopped with error", "error", err)
		cleanup()
		os.Exit(1)
	}

	logger.Info("opsassist stopped")
}

// run supervises the HTTP server and the workers. The first failure, or
// ctx being canceled, shuts everything down.
func run(ctx context.Context, cfg *config.Config, deps *dependencies, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.processor.Start(gctx)
	})

	g.Go(func() error {
		if err := deps.server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
		defer shutdownCancel()

		var errs []error
		if err := deps.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := deps.processor.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("processor shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	logger.Info("opsassist started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	return g.Wait()
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server    *api.Server
	processor *processor.Service
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function that is safe to call twice.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		st           store.Store
		locker       store.Locker
		producer     queue.Producer
		consumer     queue.Consumer
		cleanupFuncs []func()
		cleaned      bool
	)

	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	fail := func(err error) (*dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		memStore := memorystor.NewStore()
		st = memStore
		cleanupFuncs = append(cleanupFuncs, func() { _ = memStore.Close() })

		memLocker := memorystor.NewLocker()
		locker = memLocker
		cleanupFuncs = append(cleanupFuncs, func() { _ = memLocker.Close() })

		memQueue := memoryqueue.NewQueue(10000, logger.With("component", "memory-queue"))
		producer = memQueue
		consumer = memQueue
		cleanupFuncs = append(cleanupFuncs, func() { _ = memQueue.Close() })
	} else {
		logger.Info("initializing production storage (PostgreSQL, Redis, Kafka)")

		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return fail(err)
		}
		pgStore := postgresstor.NewStore(db)
		st = pgStore
		cleanupFuncs = append(cleanupFuncs, func() { _ = pgStore.Close() })

		if err := db.RunMigrations(ctx); err != nil {
			return fail(err)
		}
		logger.Info("database migrations completed")

		redisLocker, err := redisstor.NewLocker(&cfg.Redis, logger)
		if err != nil {
			return fail(err)
		}
		locker = redisLocker
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisLocker.Close() })

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka, logger)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })
	}

	var notifier notification.Notifier = notification.NewStubNotifier(logger)
	if cfg.NATS.Enabled() {
		natsNotifier, err := notification.NewNATSNotifier(&cfg.NATS, logger)
		if err != nil {
			return fail(err)
		}
		notifier = natsNotifier
		cleanupFuncs = append(cleanupFuncs, func() { _ = natsNotifier.Close() })
	}

	detector, err := incident.NewDetector(cfg.Detection.Window(), cfg.Detection.Threshold)
	if err != nil {
		return fail(err)
	}
	logger.Info("incident detection configured",
		"window", detector.Window(),
		"threshold", detector.Threshold(),
	)

	grouper := incident.NewGrouper(incident.GrouperDeps{
		Store:       st,
		Locker:      locker,
		Detector:    detector,
		Producer:    producer,
		Notifier:    notifier,
		Logger:      logger,
		MaxAttempts: cfg.Detection.MaxAttempts,
		LockTimeout: cfg.Detection.LockTimeout,
	})

	lifecycle := incident.NewLifecycle(incident.LifecycleDeps{
		Store:       st,
		Locker:      locker,
		Notifier:    notifier,
		Logger:      logger,
		LockTimeout: cfg.Detection.LockTimeout,
	})

	incidentClassifier, err := classifier.New(&cfg.Classifier, logger)
	if err != nil {
		return fail(err)
	}

	processorService := processor.NewService(
		consumer,
		st,
		incidentClassifier,
		processor.Options{
			Workers:          cfg.Classifier.Workers,
			Timeout:          cfg.Classifier.Timeout(),
			MaxContextEvents: cfg.Classifier.MaxContextEvents,
		},
		logger,
	)

	ingestService := ingest.NewService(grouper, logger)

	server := api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Logger:          logger,
		EventHandler:    api.NewEventHandler(ingestService, st.Events(), logger),
		IncidentHandler: api.NewIncidentHandler(st.Incidents(), st.Events(), lifecycle, logger),
	})

	return &dependencies{
		server:    server,
		processor: processorService,
	}, cleanup, nil
}

// initLogger creates the application logger from configuration and makes it
// the default.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
