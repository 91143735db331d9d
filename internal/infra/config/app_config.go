// Package config manages connector configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// RedisConfig points at the Redis instance holding credentials, caches and channels.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour. A disabled
// database keeps the ledger in memory.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

// SupervisorConfig tunes connection lifecycle timing.
type SupervisorConfig struct {
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	CloseTimeout      time.Duration `yaml:"closeTimeout"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
	EventBuffer       int           `yaml:"eventBuffer"`
}

// ControlConfig configures the control channel listener.
type ControlConfig struct {
	Bus          BusKind       `yaml:"bus"`
	Channel      string        `yaml:"channel"`
	DedupeWindow time.Duration `yaml:"dedupeWindow"`
	BufferSize   int           `yaml:"bufferSize"`
}

// AdminConfig configures the admin HTTP listener.
type AdminConfig struct {
	Disabled bool   `yaml:"disabled"`
	Addr     string `yaml:"addr"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	ServiceName    string        `yaml:"serviceName"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// ExchangeConfig overrides adapter endpoints. Empty fields keep the adapter defaults.
type ExchangeConfig struct {
	Disabled        bool          `yaml:"disabled"`
	MainnetURL      string        `yaml:"mainnetUrl"`
	TestnetURL      string        `yaml:"testnetUrl"`
	RESTBase        string        `yaml:"restBase"`
	TestnetRESTBase string        `yaml:"testnetRestBase"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
}

// ExchangesConfig holds per-venue overrides.
type ExchangesConfig struct {
	Gate        ExchangeConfig `yaml:"gate"`
	OKX         ExchangeConfig `yaml:"okx"`
	Hyperliquid ExchangeConfig `yaml:"hyperliquid"`
	Tokocrypto  ExchangeConfig `yaml:"tokocrypto"`
}

// AppConfig is the connector configuration sourced from YAML.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Logging     LoggingConfig    `yaml:"logging"`
	Redis       RedisConfig      `yaml:"redis"`
	Database    DatabaseConfig   `yaml:"database"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Control     ControlConfig    `yaml:"control"`
	Admin       AdminConfig      `yaml:"admin"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Exchanges   ExchangesConfig  `yaml:"exchanges"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	cfg := AppConfig{Environment: EnvDev}
	cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to Default when the file does not exist.
// The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	return AppConfig{}, false, err
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(normalizeToken(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Logging.Level = normalizeToken(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Encoding = normalizeToken(c.Logging.Encoding)
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}

	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}

	c.Database.applyDefaults()

	if c.Supervisor.ConnectTimeout <= 0 {
		c.Supervisor.ConnectTimeout = 10 * time.Second
	}
	if c.Supervisor.CloseTimeout <= 0 {
		c.Supervisor.CloseTimeout = 3 * time.Second
	}
	if c.Supervisor.InitialBackoff <= 0 {
		c.Supervisor.InitialBackoff = time.Second
	}
	if c.Supervisor.MaxBackoff <= 0 {
		c.Supervisor.MaxBackoff = 60 * time.Second
	}
	if c.Supervisor.BackoffMultiplier <= 0 {
		c.Supervisor.BackoffMultiplier = 1.5
	}
	if c.Supervisor.EventBuffer <= 0 {
		c.Supervisor.EventBuffer = 256
	}

	c.Control.Bus = BusKind(normalizeToken(string(c.Control.Bus)))
	if c.Control.Bus == "" {
		c.Control.Bus = BusRedis
	}
	c.Control.Channel = strings.TrimSpace(c.Control.Channel)
	if c.Control.Channel == "" {
		c.Control.Channel = "ws-control"
	}
	if c.Control.DedupeWindow < 0 {
		c.Control.DedupeWindow = 0
	}
	if c.Control.BufferSize <= 0 {
		c.Control.BufferSize = 256
	}

	c.Admin.Addr = strings.TrimSpace(c.Admin.Addr)
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8880"
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tradelink"
	}
	if c.Telemetry.MetricInterval <= 0 {
		c.Telemetry.MetricInterval = 30 * time.Second
	}

	for _, ex := range []*ExchangeConfig{&c.Exchanges.Gate, &c.Exchanges.OKX, &c.Exchanges.Hyperliquid, &c.Exchanges.Tokocrypto} {
		ex.MainnetURL = strings.TrimSpace(ex.MainnetURL)
		ex.TestnetURL = strings.TrimSpace(ex.TestnetURL)
		ex.RESTBase = strings.TrimSpace(ex.RESTBase)
		ex.TestnetRESTBase = strings.TrimSpace(ex.TestnetRESTBase)
	}
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/tradelink"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("logging encoding must be json or console")
	}

	switch c.Control.Bus {
	case BusRedis, BusMemory:
	default:
		return fmt.Errorf("control bus must be redis or memory")
	}

	if c.Supervisor.InitialBackoff > c.Supervisor.MaxBackoff {
		return fmt.Errorf("supervisor initialBackoff must be <= maxBackoff")
	}
	if c.Supervisor.BackoffMultiplier < 1 {
		return fmt.Errorf("supervisor backoffMultiplier must be >= 1")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when enabled")
	}

	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
