// Command connector runs the exchange connection supervisor and trade reconciliation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/coachpo/tradelink/internal/app/controlplane"
	"github.com/coachpo/tradelink/internal/app/normalizer"
	"github.com/coachpo/tradelink/internal/app/pipeline"
	"github.com/coachpo/tradelink/internal/app/reconciler"
	"github.com/coachpo/tradelink/internal/app/supervisor"
	"github.com/coachpo/tradelink/internal/domain/tradestore"
	"github.com/coachpo/tradelink/internal/infra/adapters/gate"
	"github.com/coachpo/tradelink/internal/infra/adapters/hyperliquid"
	"github.com/coachpo/tradelink/internal/infra/adapters/okx"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
	"github.com/coachpo/tradelink/internal/infra/adapters/tokocrypto"
	"github.com/coachpo/tradelink/internal/infra/bus/controlbus"
	"github.com/coachpo/tradelink/internal/infra/bus/redisbus"
	"github.com/coachpo/tradelink/internal/infra/config"
	"github.com/coachpo/tradelink/internal/infra/persistence/migrations"
	"github.com/coachpo/tradelink/internal/infra/persistence/postgres"
	"github.com/coachpo/tradelink/internal/infra/redisstore"
	httpserver "github.com/coachpo/tradelink/internal/infra/server/http"
	"github.com/coachpo/tradelink/internal/infra/telemetry"
	"github.com/coachpo/tradelink/internal/observability"
)

const (
	defaultConfigPath         = "config/app.yaml"
	supervisorShutdownTimeout = 15 * time.Second
	adminShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout  = 5 * time.Second
	migrationTimeout          = 60 * time.Second
	adminReadHeaderTimeout    = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loaded, err := config.LoadOrDefault(ctx, filepath.Clean(*configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if !loaded {
		logger.Info("configuration file not found, using defaults", zap.String("path", *configPath))
	}
	logger.Info("configuration initialised", zap.String("environment", string(cfg.Environment)),
		zap.String("control_bus", string(cfg.Control.Bus)), zap.Bool("database", cfg.Database.Enabled))

	provider, err := telemetry.NewProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(provider.Meter("tradelink"))
	if err != nil {
		return fmt.Errorf("initialise metrics: %w", err)
	}

	redisClient := redis.NewClient(redisOptions(cfg.Redis))
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	store := redisstore.New(redisClient)

	bus, closeBus := buildBus(cfg.Control, redisClient)
	defer closeBus()

	ledger, closeLedger, err := buildLedger(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	norm := normalizer.New(store, normalizer.WithLogger(logger))
	rec := reconciler.New(ledger, bus,
		reconciler.WithLogger(logger),
		reconciler.WithMetrics(metrics),
		reconciler.WithOrderCache(store),
	)
	sup := supervisor.New(buildRegistry(cfg.Exchanges), store, pipeline.New(norm, rec),
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(metrics),
		supervisor.WithOptions(supervisorOptions(cfg.Supervisor)),
	)
	plane := controlplane.New(bus, sup,
		controlplane.WithLogger(logger),
		controlplane.WithMetrics(metrics),
		controlplane.WithChannel(cfg.Control.Channel),
		controlplane.WithDedupeWindow(cfg.Control.DedupeWindow),
	)

	var lifecycle conc.WaitGroup
	var admin *http.Server
	if !cfg.Admin.Disabled {
		admin = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           httpserver.NewHandler(ctx, string(cfg.Environment), sup, plane),
			ReadHeaderTimeout: adminReadHeaderTimeout,
		}
		lifecycle.Go(func() {
			logger.Info("admin server listening", zap.String("addr", admin.Addr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server", zap.Error(err))
			}
		})
	}

	logger.Info("connector started; awaiting control commands")
	var shutdownErrs []error
	if err := plane.Run(ctx); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("control plane: %w", err))
	}

	if admin != nil {
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), adminShutdownTimeout)
		if err := admin.Shutdown(adminCtx); err != nil {
			shutdownErrs = append(shutdownErrs, fmt.Errorf("admin server: %w", err))
		}
		cancelAdmin()
	}
	lifecycle.Wait()
	plane.Wait()
	logger.Info("shutdown: closing exchange connections")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), supervisorShutdownTimeout)
	defer cancelShutdown()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("supervisor: %w", err))
	}

	telemetryCtx, cancelTelemetry := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancelTelemetry()
	if err := provider.Shutdown(telemetryCtx); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("telemetry: %w", err))
	}
	logger.Info("shutdown complete")
	return observability.AggregateErrors(logger, "shutdown", shutdownErrs)
}

func telemetryConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:    cfg.Telemetry.OTLPInsecure,
		MetricInterval:  cfg.Telemetry.MetricInterval,
		ShutdownTimeout: telemetryShutdownTimeout,
		ServiceName:     cfg.Telemetry.ServiceName,
		Environment:     string(cfg.Environment),
	}
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}
}

func buildBus(cfg config.ControlConfig, client redis.UniversalClient) (controlbus.Bus, func()) {
	if cfg.Bus == config.BusMemory {
		bus := controlbus.NewMemoryBus(controlbus.MemoryConfig{BufferSize: cfg.BufferSize})
		return bus, bus.Close
	}
	return redisbus.New(client, cfg.BufferSize), func() {}
}

func buildLedger(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (tradestore.Ledger, func(), error) {
	if !cfg.Enabled {
		logger.Warn("database disabled, trades are kept in memory")
		return tradestore.NewMemory(), func() {}, nil
	}
	if cfg.RunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
		err := migrations.Apply(migrateCtx, cfg.DSN, "", logger)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := postgres.ObservePoolMetrics(pool, "ledger"); err != nil {
		logger.Warn("database pool metrics unavailable", zap.Error(err))
	}
	return postgres.NewLedger(pool), pool.Close, nil
}

func buildRegistry(cfg config.ExchangesConfig) shared.Registry {
	adapters := make([]shared.Adapter, 0, 4)
	if !cfg.Gate.Disabled {
		adapters = append(adapters, gate.New(gate.Options{
			MainnetURL: cfg.Gate.MainnetURL,
			TestnetURL: cfg.Gate.TestnetURL,
			Heartbeat:  cfg.Gate.Heartbeat,
		}))
	}
	if !cfg.OKX.Disabled {
		adapters = append(adapters, okx.New(okx.Options{
			MainnetURL: cfg.OKX.MainnetURL,
			TestnetURL: cfg.OKX.TestnetURL,
			Heartbeat:  cfg.OKX.Heartbeat,
		}))
	}
	if !cfg.Hyperliquid.Disabled {
		adapters = append(adapters, hyperliquid.New(hyperliquid.Options{
			MainnetURL: cfg.Hyperliquid.MainnetURL,
			TestnetURL: cfg.Hyperliquid.TestnetURL,
			Heartbeat:  cfg.Hyperliquid.Heartbeat,
		}))
	}
	if !cfg.Tokocrypto.Disabled {
		adapters = append(adapters, tokocrypto.New(tokocrypto.Options{
			StreamURL:        cfg.Tokocrypto.MainnetURL,
			TestnetStreamURL: cfg.Tokocrypto.TestnetURL,
			RESTBase:         cfg.Tokocrypto.RESTBase,
			TestnetRESTBase:  cfg.Tokocrypto.TestnetRESTBase,
			Heartbeat:        cfg.Tokocrypto.Heartbeat,
		}))
	}
	return shared.NewRegistry(adapters...)
}

func supervisorOptions(cfg config.SupervisorConfig) supervisor.Options {
	return supervisor.Options{
		ConnectTimeout:    cfg.ConnectTimeout,
		CloseTimeout:      cfg.CloseTimeout,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		EventBuffer:       cfg.EventBuffer,
	}
}
