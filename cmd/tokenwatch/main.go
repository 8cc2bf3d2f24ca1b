package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xmhha/tokenwatch/internal/config"
	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/internal/logger"
	"github.com/0xmhha/tokenwatch/pkg/api"
	"github.com/0xmhha/tokenwatch/pkg/chain"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/monitor"
	"github.com/0xmhha/tokenwatch/pkg/notify"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/0xmhha/tokenwatch/pkg/tenant"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		rpcEndpoint = flag.String("rpc", "", "Ethereum RPC endpoint URL")
		contract    = flag.String("contract", "", "Launchpad contract address")
		backend     = flag.String("storage", "", "State backend (file, pebble)")
		statePath   = flag.String("state", "", "State file or database path")
		deliverer   = flag.String("notify", "", "Notification type (webhook, slack, log)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")

		enableAPI = flag.Bool("api", false, "Enable control API server")
		apiHost   = flag.String("api-host", "", "API server host")
		apiPort   = flag.Int("api-port", 0, "API server port")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("tokenwatch version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	applyFlags(cfg, *rpcEndpoint, *contract, *backend, *statePath, *deliverer, *logLevel, *logFormat)
	applyAPIFlags(cfg, *enableAPI, *apiHost, *apiPort)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting tokenwatch",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("contract", cfg.Monitor.ContractAddress),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("storage_path", cfg.Storage.Path),
		zap.String("notifications", cfg.Notifications.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("tokenwatch stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}

	log.Info("tokenwatch stopped")
}

// run wires the components and blocks until ctx is cancelled or the monitor
// gives up.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if block, ok := snap.State.Checkpoint(); ok {
		log.Info("Resuming from saved checkpoint",
			zap.Uint64("last_checked_block", block),
			zap.Int("tenants", len(snap.Tenants)),
		)
	} else {
		log.Info("No checkpoint saved, starting at the chain head",
			zap.Int("tenants", len(snap.Tenants)),
		)
	}

	client, err := chain.NewClient(&chain.Config{
		Endpoint: cfg.RPC.Endpoint,
		Timeout:  cfg.RPC.Timeout,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	defer client.Close()

	// An unreachable node is not fatal; the monitor reconnects each cycle.
	if err := client.Connect(ctx); err != nil {
		log.Warn("Chain node unavailable at startup", zap.Error(err))
	} else if chainID, err := client.ChainID(ctx); err == nil {
		log.Info("Connected to chain", zap.String("chain_id", chainID.String()))
	}

	decoder, err := events.NewDecoder()
	if err != nil {
		return fmt.Errorf("failed to create event decoder: %w", err)
	}

	registry := tenant.NewRegistry(store, log)
	registry.Load(snap.Tenants)

	dispatcher := notify.NewDispatcher(registry, newDeliverer(cfg.Notifications, log), cfg.Notifications.MaxConcurrent, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	monitorConfig := monitor.DefaultConfig()
	monitorConfig.ContractAddress = common.HexToAddress(cfg.Monitor.ContractAddress)
	monitorConfig.PollInterval = cfg.Monitor.PollInterval
	monitorConfig.PersistEvery = cfg.Monitor.PersistEvery
	monitorConfig.MaxBlockRange = cfg.Monitor.MaxBlockRange
	monitorConfig.MaxBackoff = cfg.Monitor.MaxBackoff
	monitorConfig.DegradedAfter = cfg.Monitor.DegradedAfter
	monitorConfig.StopAfter = cfg.Monitor.StopAfter
	monitorConfig.IOTimeout = cfg.Monitor.IOTimeout

	engine, err := monitor.NewEngine(monitorConfig, monitor.Deps{
		Chain:      client,
		Decoder:    decoder,
		Dispatcher: dispatcher,
		Store:      store,
		Tenants:    registry,
		Registerer: reg,
	}, snap.State, log)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.NewServer(&api.Config{
			Host:               cfg.API.Host,
			Port:               cfg.API.Port,
			ReadTimeout:        constants.DefaultReadTimeout,
			WriteTimeout:       constants.DefaultWriteTimeout,
			IdleTimeout:        constants.DefaultIdleTimeout,
			ShutdownTimeout:    constants.DefaultShutdownTimeout,
			MaxHeaderBytes:     1 << 20,
			EnableRateLimit:    cfg.API.EnableRateLimit,
			RateLimitPerSecond: cfg.API.RateLimitPerSecond,
			RateLimitBurst:     cfg.API.RateLimitBurst,
			APIKey:             cfg.API.APIKey,
		}, engine, reg, log)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}

		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop(context.Background())
		})
	}

	g.Go(func() error {
		err := engine.Run(gctx)
		if errors.Is(err, monitor.ErrFailureLimit) && server != nil {
			// keep serving so the stopped state stays observable
			log.Error("token monitor gave up; control API stays up until shutdown", zap.Error(err))
			return nil
		}
		return err
	})

	return g.Wait()
}

// newDeliverer builds the deliverer selected by the notifications config.
func newDeliverer(cfg config.NotificationsConfig, log *zap.Logger) notify.Deliverer {
	retry := notify.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.InitialDelay = cfg.RetryDelay

	switch cfg.Type {
	case constants.DeliveryTypeSlack:
		return notify.NewSlackDeliverer(notify.SlackConfig{
			Timeout:            cfg.Timeout,
			Retry:              retry,
			Username:           cfg.SlackUsername,
			RateLimitPerMinute: cfg.SlackRateLimitPerMinute,
		}, log)
	case constants.DeliveryTypeLog:
		return notify.NewLogDeliverer(log)
	default:
		return notify.NewWebhookDeliverer(notify.WebhookConfig{
			Timeout:         cfg.Timeout,
			Retry:           retry,
			Secret:          cfg.WebhookSecret,
			SignatureHeader: cfg.SignatureHeader,
		}, log)
	}
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	return godotenv.Load(".env")
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, rpcEndpoint, contract, backend, statePath, deliverer, logLevel, logFormat string) {
	if rpcEndpoint != "" {
		cfg.RPC.Endpoint = rpcEndpoint
	}
	if contract != "" {
		cfg.Monitor.ContractAddress = contract
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if statePath != "" {
		cfg.Storage.Path = statePath
	}
	if deliverer != "" {
		cfg.Notifications.Type = deliverer
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}
