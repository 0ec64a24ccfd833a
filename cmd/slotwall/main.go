// Package main provides the main entry point for the slotwall service.
// It wires the submission store, ledger gateway, confirmation engine,
// reconciler and API together using the service registry pattern.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cmatc13/slotwall/internal/api"
	"github.com/cmatc13/slotwall/internal/confirm"
	"github.com/cmatc13/slotwall/internal/events"
	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/reconciler"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/internal/verifier"
	"github.com/cmatc13/slotwall/pkg/config"
	"github.com/cmatc13/slotwall/pkg/logging"
	"github.com/cmatc13/slotwall/pkg/metrics"
	"github.com/cmatc13/slotwall/pkg/service"
)

func main() {
	configFile := pflag.String("config", "", "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Parse()

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		logging.New(logging.DefaultConfig()).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "slotwall",
		Environment: cfg.Log.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})

	// Submission store
	var store storage.SubmissionStore
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemoryStore()
		logger.Warn("using in-memory store; submissions will not survive a restart")
	default:
		redisStore, err := storage.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
	}
	defer store.Close()

	if err := store.InitCounters(ctx, cfg.Payment.Capacity); err != nil {
		logger.Error("Failed to initialize slot counters", "error", err)
		os.Exit(1)
	}
	metricsCollector.SlotCapacity.Set(float64(cfg.Payment.Capacity))
	if counters, err := store.Counters(ctx); err == nil {
		metricsCollector.SlotsUsed.Set(float64(counters.UsedSlots))
		metricsCollector.TotalValueCollected.Set(counters.TotalValueCollected)
	}

	// Ledger gateway
	gateway, err := ledger.NewEthGateway(cfg.Ledger.RPCURL, cfg.Ledger.Timeout, metricsCollector)
	if err != nil {
		logger.Error("Failed to connect to ledger RPC", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	// Optional confirmation event publisher
	var publisher events.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("Failed to create Kafka publisher", "error", err)
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	engine := confirm.NewEngine(store, publisher, logger, metricsCollector)
	rec := reconciler.New(store, gateway, engine, logger, metricsCollector,
		cfg.Reconciler.Interval, cfg.Reconciler.FreshnessWindow)
	v := verifier.New(store, gateway, engine, logger)

	server := api.NewServer(cfg, store, v, rec, gateway, logger, metricsCollector)

	registry := service.NewRegistry(logger)
	if err := registry.Register(reconciler.NewService(rec)); err != nil {
		logger.Error("Failed to register reconciler service", "error", err)
		os.Exit(1)
	}
	if err := registry.Register(api.NewService(server)); err != nil {
		logger.Error("Failed to register API service", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting all services...")
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}
	logger.Info("All services started successfully")

	// Handle graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down gracefully...")
	cancel()

	if err := registry.StopAll(context.Background()); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("Shutdown complete")
}
